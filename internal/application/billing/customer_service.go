package billing

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/application/remotesync"
	domainBilling "github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/persistence/cascade"
	"github.com/billsync/backend/internal/infrastructure/persistence/models"
)

// CustomerService manages customer-like records and their provider
// customers.
type CustomerService struct {
	db            *persistence.Database
	repo          *persistence.Repository[models.CustomerModel]
	sync          *remotesync.Engine
	cascade       *cascade.Engine
	client        domainBilling.CustomerClient
	subscriptions *SubscriptionService
	validate      *validator.Validate
	logger        *zap.Logger
}

// NewCustomerService creates a new CustomerService
func NewCustomerService(
	db *persistence.Database,
	syncEngine *remotesync.Engine,
	cascadeEngine *cascade.Engine,
	client domainBilling.CustomerClient,
	subscriptions *SubscriptionService,
	logger *zap.Logger,
) *CustomerService {
	return &CustomerService{
		db:            db,
		repo:          persistence.NewRepository[models.CustomerModel](db.DB),
		sync:          syncEngine,
		cascade:       cascadeEngine,
		client:        client,
		subscriptions: subscriptions,
		validate:      newValidator(),
		logger:        logger.Named("customer_service"),
	}
}

// Create inserts a customer and creates its provider customer in the same
// transaction. A provider failure leaves no local row behind.
func (s *CustomerService) Create(ctx context.Context, input CreateCustomerInput) (*models.CustomerModel, error) {
	if err := validateInput(s.validate, input); err != nil {
		return nil, err
	}

	customer := &models.CustomerModel{
		Name:               input.Name,
		Email:              input.Email,
		Phone:              input.Phone,
		InvoiceNowOnCancel: input.InvoiceNowOnCancel,
		ProrateOnCancel:    input.ProrateOnCancel,
	}

	var linked bool
	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		if err := s.db.Conn(ctx).Create(customer).Error; err != nil {
			return fmt.Errorf("failed to create customer: %w", err)
		}
		var err error
		linked, err = s.sync.CreateRemote(ctx, customer)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Customer created",
		zap.String("customer_id", customer.ID.String()),
		zap.String("stripe_customer_id", customer.RemoteID()),
		zap.Bool("linked", linked))
	return customer, nil
}

// Sync creates the provider customer of an existing unlinked customer. An
// already linked customer is returned unchanged.
func (s *CustomerService) Sync(ctx context.Context, id uuid.UUID) (*models.CustomerModel, error) {
	customer, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.sync.CreateRemote(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// Find loads an active customer
func (s *CustomerService) Find(ctx context.Context, id uuid.UUID, scopes ...persistence.Scope) (*models.CustomerModel, error) {
	return s.repo.FindByID(ctx, id, scopes...)
}

// Delete removes a customer for good. Its subscriptions are cancelled and
// removed first, then the provider customer is deleted when the customer
// type is configured to do so. Any failure rolls back the whole delete.
func (s *CustomerService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.Transaction(ctx, func(ctx context.Context) error {
		customer, err := s.Find(ctx, id, persistence.WithDeleted)
		if err != nil {
			return err
		}
		if s.subscriptions != nil {
			if err := s.subscriptions.destroyAllFor(ctx, customer.TableName(), customer.ID, customer.CancelPolicy()); err != nil {
				return err
			}
		}
		if _, err := s.sync.DeleteRemote(ctx, customer); err != nil {
			return err
		}
		if err := s.db.Conn(ctx).Unscoped().Delete(customer).Error; err != nil {
			return fmt.Errorf("failed to delete customer: %w", err)
		}
		s.logger.Info("Customer deleted", zap.String("customer_id", id.String()))
		return nil
	})
}

// SoftDelete soft-deletes an active customer and its subscriptions. It
// returns false when a hook aborted.
func (s *CustomerService) SoftDelete(ctx context.Context, id uuid.UUID, opts ...cascade.Option) (bool, error) {
	customer, err := s.Find(ctx, id)
	if err != nil {
		return false, err
	}
	return s.cascade.SoftDestroy(ctx, customer, opts...)
}

// Restore restores a soft-deleted customer and its subscriptions. It
// returns false when a hook aborted.
func (s *CustomerService) Restore(ctx context.Context, id uuid.UUID, opts ...cascade.Option) (bool, error) {
	customer, err := s.Find(ctx, id, persistence.OnlyDeleted)
	if err != nil {
		return false, err
	}
	return s.cascade.SoftRestore(ctx, customer, opts...)
}

// AttachPaymentMethod attaches a payment method to the provider customer.
// It returns nil without calling the provider when the customer is unlinked.
func (s *CustomerService) AttachPaymentMethod(ctx context.Context, id uuid.UUID, paymentMethodID string, setAsDefault bool) (*domainBilling.PaymentMethod, error) {
	customer, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer.RemoteID() == "" {
		s.logger.Debug("Customer not linked, skipping payment method attach",
			zap.String("customer_id", id.String()))
		return nil, nil
	}
	return s.client.AttachPaymentMethod(ctx, customer.RemoteID(), paymentMethodID, setAsDefault)
}

// PaymentMethods lists the payment methods of the provider customer. It
// returns nil without calling the provider when the customer is unlinked.
func (s *CustomerService) PaymentMethods(ctx context.Context, id uuid.UUID) ([]domainBilling.PaymentMethod, error) {
	customer, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer.RemoteID() == "" {
		return nil, nil
	}
	return s.client.ListPaymentMethods(ctx, customer.RemoteID())
}

// RemoteCustomer retrieves the provider customer, or nil when unlinked
func (s *CustomerService) RemoteCustomer(ctx context.Context, id uuid.UUID) (*domainBilling.RemoteCustomer, error) {
	customer, err := s.Find(ctx, id, persistence.WithDeleted)
	if err != nil {
		return nil, err
	}
	if customer.RemoteID() == "" {
		return nil, nil
	}
	return s.client.RetrieveCustomer(ctx, customer.RemoteID())
}
