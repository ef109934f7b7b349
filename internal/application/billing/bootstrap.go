package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/application/remotesync"
	domainBilling "github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/persistence/cascade"
	"github.com/billsync/backend/internal/infrastructure/persistence/models"
	"github.com/billsync/backend/internal/infrastructure/telemetry"
)

// Config holds the per-type settings fixed at startup
type Config struct {
	DeleteCustomerOnDestroy bool
	DeleteProductOnDestroy  bool
	DefaultCurrency         string
	ProrationBehavior       domainBilling.ProrationBehavior
}

// Services bundles the billing services and the engines they share
type Services struct {
	Customers     *CustomerService
	Products      *ProductService
	Subscriptions *SubscriptionService
	Sync          *remotesync.Engine
	Cascade       *cascade.Engine
}

// Bootstrap creates both engines, registers customers, products and
// subscriptions with them and returns the services built on top.
func Bootstrap(
	db *persistence.Database,
	client domainBilling.RemoteClient,
	cfg Config,
	logger *zap.Logger,
	metrics *telemetry.EngineMetrics,
) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	syncEngine := remotesync.NewEngine(db, logger, metrics)
	cascadeEngine := cascade.NewEngine(db, logger, metrics)

	if err := registerRemoteTypes(syncEngine, client, cfg); err != nil {
		return nil, err
	}
	if err := registerCascadeTypes(cascadeEngine); err != nil {
		return nil, err
	}

	subscriptions := NewSubscriptionService(db, syncEngine, client, cfg.ProrationBehavior, logger)
	customers := NewCustomerService(db, syncEngine, cascadeEngine, client, subscriptions, logger)
	products := NewProductService(db, syncEngine, cascadeEngine, client, cfg.DefaultCurrency, logger)

	subscriptions.RegisterSubscriber(models.CustomerModel{}.TableName(), func(ctx context.Context, id uuid.UUID, scope persistence.Scope) (Subscriber, error) {
		customer, err := customers.Find(ctx, id, scope)
		if err != nil {
			return nil, err
		}
		return customer, nil
	})

	return &Services{
		Customers:     customers,
		Products:      products,
		Subscriptions: subscriptions,
		Sync:          syncEngine,
		Cascade:       cascadeEngine,
	}, nil
}

func registerRemoteTypes(e *remotesync.Engine, client domainBilling.RemoteClient, cfg Config) error {
	err := remotesync.Register(e, &models.CustomerModel{}, remotesync.Definition[*models.CustomerModel]{
		KeyColumn: "stripe_customer_id",
		Attrs: func(c *models.CustomerModel) map[string]string {
			if c.Email == "" {
				return nil
			}
			return map[string]string{"email": c.Email}
		},
		Create: func(ctx context.Context, c *models.CustomerModel, name string, attrs map[string]string) (string, error) {
			rc, err := client.CreateCustomer(ctx, name, attrs)
			if err != nil {
				return "", err
			}
			return rc.ID, nil
		},
		Delete: func(ctx context.Context, c *models.CustomerModel) error {
			return client.DestroyCustomer(ctx, c.RemoteID())
		},
		Options: remotesync.Options{DeleteOnDestroy: cfg.DeleteCustomerOnDestroy},
	})
	if err != nil {
		return fmt.Errorf("register customers: %w", err)
	}

	err = remotesync.Register(e, &models.ProductModel{}, remotesync.Definition[*models.ProductModel]{
		KeyColumn: "stripe_product_id",
		Name: func(_ string, p *models.ProductModel) string {
			return p.Name
		},
		Attrs: func(p *models.ProductModel) map[string]string {
			if p.Description == "" {
				return nil
			}
			return map[string]string{"description": p.Description}
		},
		Create: func(ctx context.Context, p *models.ProductModel, name string, attrs map[string]string) (string, error) {
			rp, err := client.CreateProduct(ctx, name, attrs)
			if err != nil {
				return "", err
			}
			return rp.ID, nil
		},
		Delete: func(ctx context.Context, p *models.ProductModel) error {
			return client.DestroyProduct(ctx, p.RemoteID())
		},
		Options: remotesync.Options{DeleteOnDestroy: cfg.DeleteProductOnDestroy},
	})
	if err != nil {
		return fmt.Errorf("register products: %w", err)
	}

	err = remotesync.Register(e, &models.SubscriptionModel{}, remotesync.Definition[*models.SubscriptionModel]{
		KeyColumn: "stripe_subscription_id",
		Create: func(ctx context.Context, s *models.SubscriptionModel, _ string, _ map[string]string) (string, error) {
			rs, err := client.CreateSubscription(ctx, s.RemoteCustomerID, s.StripePriceID)
			if err != nil {
				return "", err
			}
			return rs.ID, nil
		},
		Delete: func(ctx context.Context, s *models.SubscriptionModel) error {
			rs, err := client.DeleteSubscription(ctx, s.RemoteID(), s.CancelOptions)
			if err != nil {
				return err
			}
			if rs != nil && rs.CanceledAt != nil {
				t := rs.CanceledAt.UTC()
				s.CanceledAt = &t
			}
			return nil
		},
		Options: remotesync.Options{DeleteOnDestroy: true},
	})
	if err != nil {
		return fmt.Errorf("register subscriptions: %w", err)
	}
	return nil
}

func registerCascadeTypes(e *cascade.Engine) error {
	if err := e.Register(&models.CustomerModel{}, cascade.Declaration{
		Relations: []cascade.Relation{
			cascade.HasManyAs[models.SubscriptionModel]("subscriptions", "subscriber"),
		},
	}); err != nil {
		return fmt.Errorf("register customers: %w", err)
	}
	if err := e.Register(&models.ProductModel{}, cascade.Declaration{}); err != nil {
		return fmt.Errorf("register products: %w", err)
	}
	if err := e.Register(&models.SubscriptionModel{}, cascade.Declaration{}); err != nil {
		return fmt.Errorf("register subscriptions: %w", err)
	}
	return nil
}
