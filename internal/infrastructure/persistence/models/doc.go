// Package models contains the GORM persistence models of billsync.
//
// Structure:
//   - base.go: BaseModel and SoftDeleteModel
//   - customer.go: CustomerModel, the customer-like remote-backed entity
//   - product.go: ProductModel, the product-like remote-backed entity
//   - subscription.go: SubscriptionModel, remote-backed and cascade-managed
//
// The remote id columns (stripe_*_id) and deleted_at are written only by the
// synchronization and cascade engines, never by ordinary updates.
package models
