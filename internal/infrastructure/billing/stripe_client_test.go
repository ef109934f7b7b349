package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"
	"go.uber.org/zap"

	domainBilling "github.com/billsync/backend/internal/domain/billing"
)

// mockBackend implements stripe.Backend for testing
type mockBackend struct {
	handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)
	calls   []string
}

func (m *mockBackend) Call(method, path, key string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	m.calls = append(m.calls, method+" "+path)
	data, err := m.handler(method, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (m *mockBackend) CallStreaming(method, path, key string, params stripe.ParamsContainer, v stripe.StreamingLastResponseSetter) error {
	return nil
}

// CallRaw serves list requests; the query is passed to the handler as path
func (m *mockBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	if body != nil {
		path += "?" + body.Encode()
	}
	m.calls = append(m.calls, method+" "+path)
	data, err := m.handler(method, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (m *mockBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

// testConfig returns a valid test configuration without rate limiting
func testConfig() *StripeConfig {
	cfg := DefaultStripeConfig()
	cfg.SecretKey = "sk_test_123456789"
	cfg.RateLimit = 0
	return cfg
}

func newTestClient(t *testing.T, cfg *StripeConfig, handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)) (*StripeClient, *mockBackend) {
	t.Helper()
	mock := &mockBackend{handler: handler}
	c, err := NewStripeClient(cfg, zap.NewNop(), WithBackends(&stripe.Backends{
		API:     mock,
		Connect: mock,
		Uploads: mock,
	}))
	require.NoError(t, err)
	return c, mock
}

func jsonBody(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// ============================================================================
// Configuration
// ============================================================================

func TestStripeConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*StripeConfig)
		expectedErr string
	}{
		{name: "valid", mutate: func(*StripeConfig) {}},
		{name: "missing key is allowed", mutate: func(c *StripeConfig) { c.SecretKey = "" }},
		{
			name:        "test mode with live key",
			mutate:      func(c *StripeConfig) { c.SecretKey = "sk_live_123456789" },
			expectedErr: "test mode enabled but secret key is not a test key",
		},
		{
			name:        "live mode with test key",
			mutate:      func(c *StripeConfig) { c.IsTestMode = false },
			expectedErr: "live mode enabled but secret key is not a live key",
		},
		{
			name:        "missing currency",
			mutate:      func(c *StripeConfig) { c.DefaultCurrency = "" },
			expectedErr: "default currency is required",
		},
		{
			name:        "unknown proration",
			mutate:      func(c *StripeConfig) { c.ProrationBehavior = "sometimes" },
			expectedErr: "invalid proration behavior",
		},
		{
			name:        "negative rate",
			mutate:      func(c *StripeConfig) { c.RateLimit = -1 },
			expectedErr: "rate limit must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.expectedErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestNewStripeClient_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCurrency = ""

	c, err := NewStripeClient(cfg, zap.NewNop())

	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestStripeClient_NotConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.SecretKey = ""
	client, mock := newTestClient(t, cfg, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		t.Fatalf("unexpected call %s %s", method, path)
		return nil, nil
	})

	_, err := client.CreateCustomer(context.Background(), "Acme", nil)

	assert.ErrorIs(t, err, domainBilling.ErrRemoteNotConfigured)
	assert.Empty(t, mock.calls)
}

// ============================================================================
// Customers
// ============================================================================

func TestStripeClient_CreateCustomer(t *testing.T) {
	var captured *stripe.CustomerParams
	client, _ := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		assert.Equal(t, "POST", method)
		assert.Equal(t, "/v1/customers", path)
		captured = params.(*stripe.CustomerParams)
		return jsonBody(t, map[string]any{
			"id":       "cus_123",
			"object":   "customer",
			"name":     "Acme",
			"email":    "billing@acme.test",
			"metadata": map[string]string{"tenant": "acme"},
		}), nil
	})

	cust, err := client.CreateCustomer(context.Background(), "Acme", map[string]string{
		"email":  "billing@acme.test",
		"tenant": "acme",
	})

	require.NoError(t, err)
	assert.Equal(t, "cus_123", cust.ID)
	assert.Equal(t, "billing@acme.test", cust.Email)
	assert.Equal(t, "acme", cust.Metadata["tenant"])

	require.NotNil(t, captured)
	assert.Equal(t, "Acme", *captured.Name)
	assert.Equal(t, "billing@acme.test", *captured.Email)
	assert.Equal(t, map[string]string{"tenant": "acme"}, captured.Metadata)
}

func TestStripeClient_CreateCustomer_Error(t *testing.T) {
	client, _ := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{HTTPStatusCode: 400, Msg: "Invalid email address"}
	})

	cust, err := client.CreateCustomer(context.Background(), "Acme", map[string]string{"email": "nope"})

	require.Error(t, err)
	assert.Nil(t, cust)
	assert.Contains(t, err.Error(), "stripe: failed to create customer")

	var se *stripe.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Invalid email address", se.Msg)
}

func TestStripeClient_DestroyCustomer(t *testing.T) {
	client, mock := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return jsonBody(t, map[string]any{"id": "cus_123", "object": "customer", "deleted": true}), nil
	})

	err := client.DestroyCustomer(context.Background(), "cus_123")

	require.NoError(t, err)
	assert.Equal(t, []string{"DELETE /v1/customers/cus_123"}, mock.calls)
}

func TestStripeClient_AttachPaymentMethod(t *testing.T) {
	t.Run("sets default payment method", func(t *testing.T) {
		var update *stripe.CustomerParams
		client, mock := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			switch path {
			case "/v1/payment_methods/pm_card_visa/attach":
				return jsonBody(t, map[string]any{
					"id":       "pm_123",
					"object":   "payment_method",
					"type":     "card",
					"customer": "cus_123",
					"card":     map[string]any{"brand": "visa", "last4": "4242", "exp_month": 12, "exp_year": 2030},
				}), nil
			case "/v1/customers/cus_123":
				update = params.(*stripe.CustomerParams)
				return jsonBody(t, map[string]any{"id": "cus_123", "object": "customer"}), nil
			}
			t.Fatalf("unexpected call %s %s", method, path)
			return nil, nil
		})

		pm, err := client.AttachPaymentMethod(context.Background(), "cus_123", "pm_card_visa", true)

		require.NoError(t, err)
		assert.Equal(t, "pm_123", pm.ID)
		assert.Equal(t, "cus_123", pm.CustomerID)
		assert.Equal(t, "visa", pm.Brand)
		assert.Equal(t, "4242", pm.Last4)
		assert.Len(t, mock.calls, 2)
		require.NotNil(t, update)
		assert.Equal(t, "pm_123", *update.InvoiceSettings.DefaultPaymentMethod)
	})

	t.Run("attach only", func(t *testing.T) {
		client, mock := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
			return jsonBody(t, map[string]any{"id": "pm_123", "object": "payment_method", "type": "card"}), nil
		})

		pm, err := client.AttachPaymentMethod(context.Background(), "cus_123", "pm_card_visa", false)

		require.NoError(t, err)
		assert.Equal(t, "cus_123", pm.CustomerID)
		assert.Len(t, mock.calls, 1)
	})
}

func TestStripeClient_ListPaymentMethods(t *testing.T) {
	client, mock := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return jsonBody(t, map[string]any{
			"object":   "list",
			"has_more": false,
			"data": []map[string]any{
				{"id": "pm_1", "object": "payment_method", "type": "card", "card": map[string]any{"brand": "visa", "last4": "4242"}},
				{"id": "pm_2", "object": "payment_method", "type": "card", "card": map[string]any{"brand": "amex", "last4": "0005"}},
			},
		}), nil
	})

	methods, err := client.ListPaymentMethods(context.Background(), "cus_123")

	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, "pm_1", methods[0].ID)
	assert.Equal(t, "amex", methods[1].Brand)

	require.Len(t, mock.calls, 1)
	u, err := url.Parse(mock.calls[0][len("GET "):])
	require.NoError(t, err)
	assert.Equal(t, "/v1/payment_methods", u.Path)
	assert.Equal(t, "cus_123", u.Query().Get("customer"))
}

// ============================================================================
// Products and prices
// ============================================================================

func TestStripeClient_CreateProduct(t *testing.T) {
	var captured *stripe.ProductParams
	client, _ := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		assert.Equal(t, "/v1/products", path)
		captured = params.(*stripe.ProductParams)
		return jsonBody(t, map[string]any{"id": "prod_123", "object": "product", "name": "Pro", "active": true}), nil
	})

	prod, err := client.CreateProduct(context.Background(), "Pro", map[string]string{
		"description": "Pro plan",
		"sku":         "PRO-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "prod_123", prod.ID)
	assert.True(t, prod.Active)
	assert.Equal(t, "Pro plan", *captured.Description)
	assert.Equal(t, map[string]string{"sku": "PRO-1"}, captured.Metadata)
}

func TestStripeClient_CreatePrice(t *testing.T) {
	var captured *stripe.PriceParams
	client, _ := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		assert.Equal(t, "/v1/prices", path)
		captured = params.(*stripe.PriceParams)
		return jsonBody(t, map[string]any{
			"id":          "price_123",
			"object":      "price",
			"product":     "prod_123",
			"unit_amount": 999,
			"currency":    "usd",
			"nickname":    "monthly",
			"active":      true,
			"recurring":   map[string]any{"interval": "month"},
		}), nil
	})

	price, err := client.CreatePrice(context.Background(), domainBilling.CreatePriceInput{
		ProductID:         "prod_123",
		UnitAmount:        decimal.RequireFromString("9.99"),
		RecurringInterval: domainBilling.IntervalMonth,
		Nickname:          "monthly",
	})

	require.NoError(t, err)
	assert.Equal(t, "price_123", price.ID)
	assert.Equal(t, "prod_123", price.ProductID)
	assert.True(t, decimal.RequireFromString("9.99").Equal(price.UnitAmount))
	assert.Equal(t, domainBilling.IntervalMonth, price.RecurringInterval)

	assert.Equal(t, int64(999), *captured.UnitAmount)
	assert.Equal(t, "usd", *captured.Currency)
	assert.Equal(t, "month", *captured.Recurring.Interval)
}

func TestStripeClient_CreatePrice_InvalidInput(t *testing.T) {
	client, mock := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, errors.New("should not be called")
	})

	_, err := client.CreatePrice(context.Background(), domainBilling.CreatePriceInput{
		ProductID:  "prod_123",
		UnitAmount: decimal.RequireFromString("9.999"),
	})
	assert.ErrorContains(t, err, "too many decimal places")

	_, err = client.CreatePrice(context.Background(), domainBilling.CreatePriceInput{
		ProductID:         "prod_123",
		UnitAmount:        decimal.NewFromInt(10),
		RecurringInterval: "fortnight",
	})
	assert.ErrorContains(t, err, "invalid recurring interval")
	assert.Empty(t, mock.calls)
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     int64
		wantErr  bool
	}{
		{"9.99", "usd", 999, false},
		{"10", "EUR", 1000, false},
		{"500", "jpy", 500, false},
		{"0.5", "jpy", 0, true},
		{"1.005", "usd", 0, true},
		{"-1", "usd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.amount+" "+tt.currency, func(t *testing.T) {
			got, err := ToMinorUnits(decimal.RequireFromString(tt.amount), tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(FromMinorUnits(got, tt.currency)))
		})
	}
}

// ============================================================================
// Subscriptions
// ============================================================================

func subscriptionJSON(t *testing.T, id, itemID, priceID, status string, canceledAt int64) []byte {
	return jsonBody(t, map[string]any{
		"id":          id,
		"object":      "subscription",
		"customer":    "cus_123",
		"status":      status,
		"canceled_at": canceledAt,
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": itemID, "object": "subscription_item", "price": map[string]any{"id": priceID, "object": "price"}},
			},
		},
	})
}

func TestStripeClient_CreateSubscription(t *testing.T) {
	var captured *stripe.SubscriptionParams
	client, _ := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		assert.Equal(t, "/v1/subscriptions", path)
		captured = params.(*stripe.SubscriptionParams)
		return subscriptionJSON(t, "sub_123", "si_1", "price_123", "active", 0), nil
	})

	sub, err := client.CreateSubscription(context.Background(), "cus_123", "price_123")

	require.NoError(t, err)
	assert.Equal(t, "sub_123", sub.ID)
	assert.Equal(t, "cus_123", sub.CustomerID)
	assert.Equal(t, "si_1", sub.ItemID)
	assert.Equal(t, "price_123", sub.PriceID)
	assert.Nil(t, sub.CanceledAt)
	assert.Equal(t, "cus_123", *captured.Customer)
	assert.Equal(t, "price_123", *captured.Items[0].Price)
}

func TestStripeClient_UpdateSubscription(t *testing.T) {
	var captured *stripe.SubscriptionParams
	client, mock := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if method == "GET" {
			return subscriptionJSON(t, "sub_123", "si_1", "price_old", "active", 0), nil
		}
		captured = params.(*stripe.SubscriptionParams)
		return subscriptionJSON(t, "sub_123", "si_1", "price_new", "active", 0), nil
	})

	sub, err := client.UpdateSubscription(context.Background(), "sub_123", "price_new", "")

	require.NoError(t, err)
	assert.Equal(t, "price_new", sub.PriceID)
	assert.Equal(t, []string{"GET /v1/subscriptions/sub_123", "POST /v1/subscriptions/sub_123"}, mock.calls)
	require.Len(t, captured.Items, 1)
	assert.Equal(t, "si_1", *captured.Items[0].ID)
	assert.Equal(t, "price_new", *captured.Items[0].Price)
	assert.Equal(t, "create_prorations", *captured.ProrationBehavior)
}

func TestStripeClient_DeleteSubscription(t *testing.T) {
	var captured *stripe.SubscriptionCancelParams
	client, mock := newTestClient(t, testConfig(), func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		captured = params.(*stripe.SubscriptionCancelParams)
		return subscriptionJSON(t, "sub_123", "si_1", "price_123", "canceled", 1700000000), nil
	})

	sub, err := client.DeleteSubscription(context.Background(), "sub_123", domainBilling.CancelPolicy{InvoiceNow: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"DELETE /v1/subscriptions/sub_123"}, mock.calls)
	assert.Equal(t, "canceled", sub.Status)
	require.NotNil(t, sub.CanceledAt)
	assert.Equal(t, int64(1700000000), sub.CanceledAt.Unix())
	assert.True(t, *captured.InvoiceNow)
	assert.False(t, *captured.Prorate)
}

// ============================================================================
// Resilience
// ============================================================================

func TestStripeClient_CircuitBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerFailures = 2
	client, mock := newTestClient(t, cfg, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{HTTPStatusCode: 503, Msg: "unavailable"}
	})
	ctx := context.Background()

	for range 2 {
		_, err := client.RetrieveCustomer(ctx, "cus_123")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := client.RetrieveCustomer(ctx, "cus_123")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, mock.calls, 2)
}

func TestStripeClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerFailures = 1
	client, mock := newTestClient(t, cfg, func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "No such customer"}
	})

	for range 3 {
		_, err := client.RetrieveCustomer(context.Background(), "cus_missing")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Len(t, mock.calls, 3)
}
