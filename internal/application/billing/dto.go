package billing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainBilling "github.com/billsync/backend/internal/domain/billing"
)

// CreateCustomerInput contains input for creating a customer
type CreateCustomerInput struct {
	Name               string `json:"name" validate:"required,max=200"`
	Email              string `json:"email" validate:"omitempty,email,max=200"`
	Phone              string `json:"phone" validate:"omitempty,max=50"`
	InvoiceNowOnCancel bool   `json:"invoice_now_on_cancel"`
	ProrateOnCancel    bool   `json:"prorate_on_cancel"`
}

// CreateProductInput contains input for creating a product
type CreateProductInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description"`
}

// CreatePriceInput contains input for adding a price to a product.
// UnitAmount is in major currency units. An empty Currency uses the
// configured default.
type CreatePriceInput struct {
	UnitAmount        decimal.Decimal                 `json:"unit_amount" validate:"gt=0"`
	Currency          string                          `json:"currency" validate:"omitempty,len=3"`
	RecurringInterval domainBilling.RecurringInterval `json:"recurring_interval" validate:"omitempty,oneof=day week month year"`
	Nickname          string                          `json:"nickname" validate:"omitempty,max=100"`
	Extra             map[string]string               `json:"extra"`
}

// CreateSubscriptionInput contains input for subscribing a subscriber to a
// price.
type CreateSubscriptionInput struct {
	SubscriberType string     `json:"subscriber_type" validate:"required"`
	SubscriberID   uuid.UUID  `json:"subscriber_id" validate:"required"`
	PriceID        string     `json:"price_id" validate:"required"`
	ProductID      *uuid.UUID `json:"product_id"`
}
