package cli

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainBilling "github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/persistence/models"
)

type customerView struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	StripeCustomerID string     `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

func toCustomerView(m *models.CustomerModel) customerView {
	return customerView{
		ID:               m.ID,
		Name:             m.Name,
		Email:            m.Email,
		Phone:            m.Phone,
		StripeCustomerID: m.RemoteID(),
		CreatedAt:        m.CreatedAt,
		DeletedAt:        m.GetDeletedAt(),
	}
}

type productView struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	StripeProductID string     `json:"stripe_product_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

func toProductView(m *models.ProductModel) productView {
	return productView{
		ID:              m.ID,
		Name:            m.Name,
		Description:     m.Description,
		StripeProductID: m.RemoteID(),
		CreatedAt:       m.CreatedAt,
		DeletedAt:       m.GetDeletedAt(),
	}
}

type subscriptionView struct {
	ID                   uuid.UUID  `json:"id"`
	SubscriberType       string     `json:"subscriber_type"`
	SubscriberID         uuid.UUID  `json:"subscriber_id"`
	ProductID            *uuid.UUID `json:"product_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	StripePriceID        string     `json:"stripe_price_id"`
	Status               string     `json:"status"`
	State                string     `json:"state"`
	PriceChangedAt       *time.Time `json:"price_changed_at,omitempty"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty"`
}

func toSubscriptionView(m *models.SubscriptionModel) subscriptionView {
	return subscriptionView{
		ID:                   m.ID,
		SubscriberType:       m.SubscriberType,
		SubscriberID:         m.SubscriberID,
		ProductID:            m.ProductID,
		StripeSubscriptionID: m.RemoteID(),
		StripePriceID:        m.StripePriceID,
		Status:               string(m.Status),
		State:                string(m.State()),
		PriceChangedAt:       m.PriceChangedAt,
		CanceledAt:           m.CanceledAt,
		DeletedAt:            m.GetDeletedAt(),
	}
}

type priceView struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	UnitAmount        decimal.Decimal `json:"unit_amount"`
	Currency          string          `json:"currency"`
	RecurringInterval string          `json:"recurring_interval,omitempty"`
	Nickname          string          `json:"nickname,omitempty"`
	Active            bool            `json:"active"`
}

func toPriceView(p domainBilling.Price) priceView {
	return priceView{
		ID:                p.ID,
		ProductID:         p.ProductID,
		UnitAmount:        p.UnitAmount,
		Currency:          p.Currency,
		RecurringInterval: string(p.RecurringInterval),
		Nickname:          p.Nickname,
		Active:            p.Active,
	}
}

type paymentMethodView struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int64  `json:"exp_month,omitempty"`
	ExpYear  int64  `json:"exp_year,omitempty"`
}

func toPaymentMethodView(pm domainBilling.PaymentMethod) paymentMethodView {
	return paymentMethodView{
		ID:       pm.ID,
		Type:     pm.Type,
		Brand:    pm.Brand,
		Last4:    pm.Last4,
		ExpMonth: pm.ExpMonth,
		ExpYear:  pm.ExpYear,
	}
}

// changeView reports whether a soft delete or restore changed anything
type changeView struct {
	ID      uuid.UUID `json:"id"`
	Changed bool      `json:"changed"`
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mapSlice[T, V any](items []T, fn func(T) V) []V {
	out := make([]V, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}
