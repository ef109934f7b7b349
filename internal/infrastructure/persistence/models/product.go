package models

// ProductModel is a product-like record mirrored to a provider product.
type ProductModel struct {
	SoftDeleteModel
	Name            string  `gorm:"type:varchar(200);not null;index"`
	Description     string  `gorm:"type:text"`
	StripeProductID *string `gorm:"type:varchar(255);uniqueIndex"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// RemoteID returns the provider product id, or "" when unlinked
func (m *ProductModel) RemoteID() string {
	return remoteID(m.StripeProductID)
}

// SetRemoteID updates the in-memory provider product id
func (m *ProductModel) SetRemoteID(id string) {
	m.StripeProductID = nullableID(id)
}
