package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/domain/shared"
)

// SubscriptionModel is a provider subscription owned by a polymorphic
// subscriber and bound to a product price.
type SubscriptionModel struct {
	SoftDeleteModel
	SubscriberType       string                     `gorm:"type:varchar(100);not null;index:idx_subscriptions_subscriber,priority:1"`
	SubscriberID         uuid.UUID                  `gorm:"type:uuid;not null;index:idx_subscriptions_subscriber,priority:2"`
	ProductID            *uuid.UUID                 `gorm:"type:uuid;index"`
	StripeSubscriptionID *string                    `gorm:"type:varchar(255);uniqueIndex"`
	StripePriceID        string                     `gorm:"type:varchar(255);not null;index"`
	Status               billing.SubscriptionStatus `gorm:"type:varchar(20);not null;index"`
	PriceChangedAt       *time.Time
	CanceledAt           *time.Time

	// RemoteCustomerID and CancelOptions are copied from the subscriber
	// before the remote subscription is created or cancelled.
	RemoteCustomerID string               `gorm:"-"`
	CancelOptions    billing.CancelPolicy `gorm:"-"`

	// Errors holds failures attached by operations that refuse to proceed,
	// such as a destroy whose remote cancel failed.
	Errors shared.FieldErrors `gorm:"-"`
}

// TableName returns the table name for GORM
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// RemoteID returns the provider subscription id, or "" when unlinked
func (m *SubscriptionModel) RemoteID() string {
	return remoteID(m.StripeSubscriptionID)
}

// SetRemoteID updates the in-memory provider subscription id
func (m *SubscriptionModel) SetRemoteID(id string) {
	m.StripeSubscriptionID = nullableID(id)
}

// State returns the state machine position of the subscription. A linked
// subscription whose price was changed since creation is updated.
func (m *SubscriptionModel) State() billing.SubscriptionState {
	switch {
	case m.Status == billing.SubscriptionStatusCancelled:
		return billing.StateCancelled
	case m.RemoteID() == "":
		return billing.StatePending
	case m.PriceChangedAt != nil:
		return billing.StateUpdated
	default:
		return billing.StateActive
	}
}
