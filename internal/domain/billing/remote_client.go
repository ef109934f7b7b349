package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerClient manages customer resources and their payment methods.
type CustomerClient interface {
	CreateCustomer(ctx context.Context, name string, attrs map[string]string) (*RemoteCustomer, error)
	DestroyCustomer(ctx context.Context, id string) error
	RetrieveCustomer(ctx context.Context, id string) (*RemoteCustomer, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) (*PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
}

// ProductClient manages product resources and their prices.
type ProductClient interface {
	CreateProduct(ctx context.Context, name string, attrs map[string]string) (*RemoteProduct, error)
	DestroyProduct(ctx context.Context, id string) error
	RetrieveProduct(ctx context.Context, id string) (*RemoteProduct, error)
	CreatePrice(ctx context.Context, input CreatePriceInput) (*Price, error)
	ListPrices(ctx context.Context, productID string) ([]Price, error)
}

// SubscriptionClient manages subscription resources.
type SubscriptionClient interface {
	CreateSubscription(ctx context.Context, customerID, priceID string) (*RemoteSubscription, error)
	UpdateSubscription(ctx context.Context, id, newPriceID string, proration ProrationBehavior) (*RemoteSubscription, error)
	DeleteSubscription(ctx context.Context, id string, policy CancelPolicy) (*RemoteSubscription, error)
	RetrieveSubscription(ctx context.Context, id string) (*RemoteSubscription, error)
}

// RemoteClient is the full billing provider capability.
type RemoteClient interface {
	CustomerClient
	ProductClient
	SubscriptionClient
}

// RemoteCustomer is a customer resource in the billing provider
type RemoteCustomer struct {
	ID                   string
	Name                 string
	Email                string
	Description          string
	DefaultPaymentMethod string
	Metadata             map[string]string
	Deleted              bool
}

// PaymentMethod is a payment instrument attached to a remote customer
type PaymentMethod struct {
	ID         string
	CustomerID string
	Type       string
	Brand      string
	Last4      string
	ExpMonth   int64
	ExpYear    int64
}

// RemoteProduct is a product resource in the billing provider
type RemoteProduct struct {
	ID          string
	Name        string
	Description string
	Active      bool
	Metadata    map[string]string
	Deleted     bool
}

// RecurringInterval is the billing interval of a recurring price
type RecurringInterval string

const (
	IntervalDay   RecurringInterval = "day"
	IntervalWeek  RecurringInterval = "week"
	IntervalMonth RecurringInterval = "month"
	IntervalYear  RecurringInterval = "year"
)

// IsValid returns true if the interval is one the provider accepts
func (i RecurringInterval) IsValid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// CreatePriceInput contains input for creating a price on a remote product.
// UnitAmount is expressed in major currency units (e.g. 9.99 USD).
type CreatePriceInput struct {
	ProductID         string
	UnitAmount        decimal.Decimal
	Currency          string
	RecurringInterval RecurringInterval // empty for one-off prices
	Nickname          string
	ExtraFields       map[string]string
}

// Price is a price resource attached to a remote product
type Price struct {
	ID                string
	ProductID         string
	UnitAmount        decimal.Decimal
	Currency          string
	RecurringInterval RecurringInterval
	Nickname          string
	Active            bool
}

// RemoteSubscription is a subscription resource in the billing provider
type RemoteSubscription struct {
	ID         string
	CustomerID string
	PriceID    string
	ItemID     string
	Status     string
	CanceledAt *time.Time
}
