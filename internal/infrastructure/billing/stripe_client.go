package billing

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	domainBilling "github.com/billsync/backend/internal/domain/billing"
)

// ErrCircuitOpen is returned while the breaker rejects calls to Stripe
var ErrCircuitOpen = errors.New("stripe: circuit breaker is open")

// StripeClient implements domainBilling.RemoteClient on top of stripe-go.
// Calls are rate limited and guarded by a circuit breaker; retries are left
// to the stripe-go backend.
type StripeClient struct {
	config  *StripeConfig
	api     *client.API
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ domainBilling.RemoteClient = (*StripeClient)(nil)

// ClientOption configures a StripeClient
type ClientOption func(*clientOptions)

type clientOptions struct {
	backends *stripe.Backends
}

// WithBackends overrides the stripe-go backends, mainly for tests
func WithBackends(b *stripe.Backends) ClientOption {
	return func(o *clientOptions) {
		o.backends = b
	}
}

// NewStripeClient creates a new Stripe client
func NewStripeClient(config *StripeConfig, logger *zap.Logger, opts ...ClientOption) (*StripeClient, error) {
	if config == nil {
		config = DefaultStripeConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("stripe")

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.backends == nil {
		bc := config.backendConfig()
		bc.LeveledLogger = logger.Sugar()
		o.backends = &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
		}
	}

	api := &client.API{}
	api.Init(config.SecretKey, o.backends)

	c := &StripeClient{
		config: config,
		api:    api,
		logger: logger,
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "stripe",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return config.BreakerFailures > 0 && counts.ConsecutiveFailures >= config.BreakerFailures
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// isBreakerSuccess keeps client-side errors (4xx) from tripping the breaker
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode > 0 && se.HTTPStatusCode < 500
	}
	return false
}

// execute runs fn behind the credential check, the rate limiter and the breaker
func execute[T any](ctx context.Context, c *StripeClient, fn func() (T, error)) (T, error) {
	var zero T
	if !c.config.Configured() {
		return zero, domainBilling.ErrRemoteNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}
	}
	res, err := c.breaker.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, ErrCircuitOpen
	}
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

// CreateCustomer creates a new customer in Stripe. The attributes "email",
// "description" and "phone" map to customer fields; any other key is stored
// as metadata.
func (c *StripeClient) CreateCustomer(ctx context.Context, name string, attrs map[string]string) (*domainBilling.RemoteCustomer, error) {
	c.logger.Debug("Creating Stripe customer", zap.String("name", name))

	params := &stripe.CustomerParams{Name: stripe.String(name)}
	params.Context = ctx
	metadata := make(map[string]string)
	for k, v := range attrs {
		switch k {
		case "email":
			params.Email = stripe.String(v)
		case "description":
			params.Description = stripe.String(v)
		case "phone":
			params.Phone = stripe.String(v)
		default:
			metadata[k] = v
		}
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	cust, err := execute(ctx, c, func() (*stripe.Customer, error) {
		return c.api.Customers.New(params)
	})
	if err != nil {
		c.logger.Error("Failed to create Stripe customer",
			zap.String("name", name),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	c.logger.Info("Created Stripe customer", zap.String("customer_id", cust.ID))
	return toRemoteCustomer(cust), nil
}

// DestroyCustomer deletes a customer from Stripe
func (c *StripeClient) DestroyCustomer(ctx context.Context, id string) error {
	c.logger.Debug("Deleting Stripe customer", zap.String("customer_id", id))

	params := &stripe.CustomerParams{}
	params.Context = ctx
	_, err := execute(ctx, c, func() (*stripe.Customer, error) {
		return c.api.Customers.Del(id, params)
	})
	if err != nil {
		c.logger.Error("Failed to delete Stripe customer",
			zap.String("customer_id", id),
			zap.Error(err))
		return fmt.Errorf("stripe: failed to delete customer: %w", err)
	}

	c.logger.Info("Deleted Stripe customer", zap.String("customer_id", id))
	return nil
}

// RetrieveCustomer retrieves a customer from Stripe
func (c *StripeClient) RetrieveCustomer(ctx context.Context, id string) (*domainBilling.RemoteCustomer, error) {
	c.logger.Debug("Getting Stripe customer", zap.String("customer_id", id))

	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := execute(ctx, c, func() (*stripe.Customer, error) {
		return c.api.Customers.Get(id, params)
	})
	if err != nil {
		c.logger.Error("Failed to get Stripe customer",
			zap.String("customer_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to get customer: %w", err)
	}
	return toRemoteCustomer(cust), nil
}

// AttachPaymentMethod attaches a payment method to a customer and optionally
// makes it the default for invoices.
func (c *StripeClient) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) (*domainBilling.PaymentMethod, error) {
	c.logger.Debug("Attaching payment method",
		zap.String("customer_id", customerID),
		zap.String("payment_method_id", paymentMethodID),
		zap.Bool("set_as_default", setAsDefault))

	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	pm, err := execute(ctx, c, func() (*stripe.PaymentMethod, error) {
		return c.api.PaymentMethods.Attach(paymentMethodID, params)
	})
	if err != nil {
		c.logger.Error("Failed to attach payment method",
			zap.String("customer_id", customerID),
			zap.String("payment_method_id", paymentMethodID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to attach payment method: %w", err)
	}

	if setAsDefault {
		update := &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(pm.ID),
			},
		}
		update.Context = ctx
		if _, err := execute(ctx, c, func() (*stripe.Customer, error) {
			return c.api.Customers.Update(customerID, update)
		}); err != nil {
			c.logger.Error("Failed to set default payment method",
				zap.String("customer_id", customerID),
				zap.String("payment_method_id", pm.ID),
				zap.Error(err))
			return nil, fmt.Errorf("stripe: failed to set default payment method: %w", err)
		}
	}

	c.logger.Info("Attached payment method",
		zap.String("customer_id", customerID),
		zap.String("payment_method_id", pm.ID))
	out := toPaymentMethod(pm)
	if out.CustomerID == "" {
		out.CustomerID = customerID
	}
	return out, nil
}

// ListPaymentMethods lists the payment methods attached to a customer
func (c *StripeClient) ListPaymentMethods(ctx context.Context, customerID string) ([]domainBilling.PaymentMethod, error) {
	c.logger.Debug("Listing payment methods", zap.String("customer_id", customerID))

	params := &stripe.PaymentMethodListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	methods, err := execute(ctx, c, func() ([]domainBilling.PaymentMethod, error) {
		var out []domainBilling.PaymentMethod
		iter := c.api.PaymentMethods.List(params)
		for iter.Next() {
			out = append(out, *toPaymentMethod(iter.PaymentMethod()))
		}
		return out, iter.Err()
	})
	if err != nil {
		c.logger.Error("Failed to list payment methods",
			zap.String("customer_id", customerID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to list payment methods: %w", err)
	}
	return methods, nil
}

func toRemoteCustomer(cust *stripe.Customer) *domainBilling.RemoteCustomer {
	out := &domainBilling.RemoteCustomer{
		ID:          cust.ID,
		Name:        cust.Name,
		Email:       cust.Email,
		Description: cust.Description,
		Metadata:    maps.Clone(cust.Metadata),
		Deleted:     cust.Deleted,
	}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		out.DefaultPaymentMethod = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}
	return out
}

func toPaymentMethod(pm *stripe.PaymentMethod) *domainBilling.PaymentMethod {
	out := &domainBilling.PaymentMethod{
		ID:   pm.ID,
		Type: string(pm.Type),
	}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = pm.Card.ExpMonth
		out.ExpYear = pm.Card.ExpYear
	}
	return out
}
