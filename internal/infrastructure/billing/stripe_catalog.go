package billing

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	domainBilling "github.com/billsync/backend/internal/domain/billing"
)

// zeroDecimalCurrencies are charged in whole units by Stripe
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true,
	"xpf": true,
}

// ToMinorUnits converts an amount in major units to the integer amount Stripe
// expects. Amounts more precise than the currency allows are rejected.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("stripe: unit amount must not be negative")
	}
	minor := amount
	if !zeroDecimalCurrencies[strings.ToLower(currency)] {
		minor = amount.Shift(2)
	}
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("stripe: unit amount %s has too many decimal places for %s", amount, currency)
	}
	return minor.IntPart(), nil
}

// FromMinorUnits converts a Stripe integer amount back to major units
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

// CreateProduct creates a new product in Stripe. "description" maps to the
// product description; any other attribute is stored as metadata.
func (c *StripeClient) CreateProduct(ctx context.Context, name string, attrs map[string]string) (*domainBilling.RemoteProduct, error) {
	c.logger.Debug("Creating Stripe product", zap.String("name", name))

	params := &stripe.ProductParams{Name: stripe.String(name)}
	params.Context = ctx
	metadata := make(map[string]string)
	for k, v := range attrs {
		if k == "description" {
			if v != "" {
				params.Description = stripe.String(v)
			}
			continue
		}
		metadata[k] = v
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	prod, err := execute(ctx, c, func() (*stripe.Product, error) {
		return c.api.Products.New(params)
	})
	if err != nil {
		c.logger.Error("Failed to create Stripe product",
			zap.String("name", name),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to create product: %w", err)
	}

	c.logger.Info("Created Stripe product", zap.String("product_id", prod.ID))
	return toRemoteProduct(prod), nil
}

// DestroyProduct deletes a product from Stripe
func (c *StripeClient) DestroyProduct(ctx context.Context, id string) error {
	c.logger.Debug("Deleting Stripe product", zap.String("product_id", id))

	params := &stripe.ProductParams{}
	params.Context = ctx
	_, err := execute(ctx, c, func() (*stripe.Product, error) {
		return c.api.Products.Del(id, params)
	})
	if err != nil {
		c.logger.Error("Failed to delete Stripe product",
			zap.String("product_id", id),
			zap.Error(err))
		return fmt.Errorf("stripe: failed to delete product: %w", err)
	}

	c.logger.Info("Deleted Stripe product", zap.String("product_id", id))
	return nil
}

// RetrieveProduct retrieves a product from Stripe
func (c *StripeClient) RetrieveProduct(ctx context.Context, id string) (*domainBilling.RemoteProduct, error) {
	c.logger.Debug("Getting Stripe product", zap.String("product_id", id))

	params := &stripe.ProductParams{}
	params.Context = ctx
	prod, err := execute(ctx, c, func() (*stripe.Product, error) {
		return c.api.Products.Get(id, params)
	})
	if err != nil {
		c.logger.Error("Failed to get Stripe product",
			zap.String("product_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to get product: %w", err)
	}
	return toRemoteProduct(prod), nil
}

// CreatePrice creates a price on an existing product
func (c *StripeClient) CreatePrice(ctx context.Context, input domainBilling.CreatePriceInput) (*domainBilling.Price, error) {
	currency := strings.ToLower(input.Currency)
	if currency == "" {
		currency = c.config.DefaultCurrency
	}

	c.logger.Debug("Creating Stripe price",
		zap.String("product_id", input.ProductID),
		zap.String("unit_amount", input.UnitAmount.String()),
		zap.String("currency", currency))

	amount, err := ToMinorUnits(input.UnitAmount, currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.PriceParams{
		Product:    stripe.String(input.ProductID),
		UnitAmount: stripe.Int64(amount),
		Currency:   stripe.String(currency),
	}
	params.Context = ctx
	if input.RecurringInterval != "" {
		if !input.RecurringInterval.IsValid() {
			return nil, fmt.Errorf("stripe: invalid recurring interval: %q", input.RecurringInterval)
		}
		params.Recurring = &stripe.PriceRecurringParams{
			Interval: stripe.String(string(input.RecurringInterval)),
		}
	}
	if input.Nickname != "" {
		params.Nickname = stripe.String(input.Nickname)
	}
	if len(input.ExtraFields) > 0 {
		params.Metadata = maps.Clone(input.ExtraFields)
	}

	p, err := execute(ctx, c, func() (*stripe.Price, error) {
		return c.api.Prices.New(params)
	})
	if err != nil {
		c.logger.Error("Failed to create Stripe price",
			zap.String("product_id", input.ProductID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to create price: %w", err)
	}

	c.logger.Info("Created Stripe price",
		zap.String("product_id", input.ProductID),
		zap.String("price_id", p.ID))
	out := toPrice(p)
	if out.ProductID == "" {
		out.ProductID = input.ProductID
	}
	return out, nil
}

// ListPrices lists the prices of a product
func (c *StripeClient) ListPrices(ctx context.Context, productID string) ([]domainBilling.Price, error) {
	c.logger.Debug("Listing Stripe prices", zap.String("product_id", productID))

	params := &stripe.PriceListParams{Product: stripe.String(productID)}
	params.Context = ctx
	prices, err := execute(ctx, c, func() ([]domainBilling.Price, error) {
		var out []domainBilling.Price
		iter := c.api.Prices.List(params)
		for iter.Next() {
			out = append(out, *toPrice(iter.Price()))
		}
		return out, iter.Err()
	})
	if err != nil {
		c.logger.Error("Failed to list Stripe prices",
			zap.String("product_id", productID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to list prices: %w", err)
	}
	return prices, nil
}

func toRemoteProduct(prod *stripe.Product) *domainBilling.RemoteProduct {
	return &domainBilling.RemoteProduct{
		ID:          prod.ID,
		Name:        prod.Name,
		Description: prod.Description,
		Active:      prod.Active,
		Metadata:    maps.Clone(prod.Metadata),
		Deleted:     prod.Deleted,
	}
}

func toPrice(p *stripe.Price) *domainBilling.Price {
	out := &domainBilling.Price{
		ID:         p.ID,
		UnitAmount: FromMinorUnits(p.UnitAmount, string(p.Currency)),
		Currency:   string(p.Currency),
		Nickname:   p.Nickname,
		Active:     p.Active,
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	if p.Recurring != nil {
		out.RecurringInterval = domainBilling.RecurringInterval(p.Recurring.Interval)
	}
	return out
}
