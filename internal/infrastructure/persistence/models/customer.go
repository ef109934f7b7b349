package models

import (
	"github.com/billsync/backend/internal/domain/billing"
)

// CustomerModel is a customer-like record mirrored to a provider customer.
type CustomerModel struct {
	SoftDeleteModel
	Name             string  `gorm:"type:varchar(200);not null"`
	Email            string  `gorm:"type:varchar(200);index"`
	Phone            string  `gorm:"type:varchar(50)"`
	StripeCustomerID *string `gorm:"type:varchar(255);uniqueIndex"`

	// Cancellation options applied to this customer's subscriptions
	InvoiceNowOnCancel bool `gorm:"not null;default:false"`
	ProrateOnCancel    bool `gorm:"not null;default:false"`

	Subscriptions []SubscriptionModel `gorm:"polymorphic:Subscriber"`
}

// TableName returns the table name for GORM
func (CustomerModel) TableName() string {
	return "customers"
}

// RemoteID returns the provider customer id, or "" when unlinked
func (m *CustomerModel) RemoteID() string {
	return remoteID(m.StripeCustomerID)
}

// SetRemoteID updates the in-memory provider customer id
func (m *CustomerModel) SetRemoteID(id string) {
	m.StripeCustomerID = nullableID(id)
}

// CancelPolicy returns the options used when this customer's subscriptions
// are cancelled.
func (m *CustomerModel) CancelPolicy() billing.CancelPolicy {
	return billing.CancelPolicy{
		InvoiceNow: m.InvoiceNowOnCancel,
		Prorate:    m.ProrateOnCancel,
	}
}

// ResetAssociations drops loaded associations so the next read reloads them
func (m *CustomerModel) ResetAssociations() {
	m.Subscriptions = nil
}
