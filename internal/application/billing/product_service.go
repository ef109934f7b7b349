package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/application/remotesync"
	domainBilling "github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/persistence/cascade"
	"github.com/billsync/backend/internal/infrastructure/persistence/models"
)

// ProductService manages product-like records, their provider products and
// prices.
type ProductService struct {
	db              *persistence.Database
	repo            *persistence.Repository[models.ProductModel]
	sync            *remotesync.Engine
	cascade         *cascade.Engine
	client          domainBilling.ProductClient
	defaultCurrency string
	validate        *validator.Validate
	logger          *zap.Logger
}

// NewProductService creates a new ProductService. Prices created without a
// currency use defaultCurrency.
func NewProductService(
	db *persistence.Database,
	syncEngine *remotesync.Engine,
	cascadeEngine *cascade.Engine,
	client domainBilling.ProductClient,
	defaultCurrency string,
	logger *zap.Logger,
) *ProductService {
	return &ProductService{
		db:              db,
		repo:            persistence.NewRepository[models.ProductModel](db.DB),
		sync:            syncEngine,
		cascade:         cascadeEngine,
		client:          client,
		defaultCurrency: strings.ToLower(defaultCurrency),
		validate:        newValidator(),
		logger:          logger.Named("product_service"),
	}
}

// Create inserts a product and creates its provider product in the same
// transaction. A provider failure leaves no local row behind.
func (s *ProductService) Create(ctx context.Context, input CreateProductInput) (*models.ProductModel, error) {
	if err := validateInput(s.validate, input); err != nil {
		return nil, err
	}

	product := &models.ProductModel{
		Name:        input.Name,
		Description: input.Description,
	}
	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		if err := s.db.Conn(ctx).Create(product).Error; err != nil {
			return fmt.Errorf("failed to create product: %w", err)
		}
		_, err := s.sync.CreateRemote(ctx, product)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product created",
		zap.String("product_id", product.ID.String()),
		zap.String("stripe_product_id", product.RemoteID()))
	return product, nil
}

// Sync creates the provider product of an existing unlinked product
func (s *ProductService) Sync(ctx context.Context, id uuid.UUID) (*models.ProductModel, error) {
	product, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.sync.CreateRemote(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// Find loads an active product
func (s *ProductService) Find(ctx context.Context, id uuid.UUID, scopes ...persistence.Scope) (*models.ProductModel, error) {
	return s.repo.FindByID(ctx, id, scopes...)
}

// Delete removes a product for good, deleting the provider product first
// when the product type is configured to do so.
func (s *ProductService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.Transaction(ctx, func(ctx context.Context) error {
		product, err := s.Find(ctx, id, persistence.WithDeleted)
		if err != nil {
			return err
		}
		if _, err := s.sync.DeleteRemote(ctx, product); err != nil {
			return err
		}
		if err := s.db.Conn(ctx).Unscoped().Delete(product).Error; err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		s.logger.Info("Product deleted", zap.String("product_id", id.String()))
		return nil
	})
}

// SoftDelete soft-deletes an active product
func (s *ProductService) SoftDelete(ctx context.Context, id uuid.UUID, opts ...cascade.Option) (bool, error) {
	product, err := s.Find(ctx, id)
	if err != nil {
		return false, err
	}
	return s.cascade.SoftDestroy(ctx, product, opts...)
}

// Restore restores a soft-deleted product
func (s *ProductService) Restore(ctx context.Context, id uuid.UUID, opts ...cascade.Option) (bool, error) {
	product, err := s.Find(ctx, id, persistence.OnlyDeleted)
	if err != nil {
		return false, err
	}
	return s.cascade.SoftRestore(ctx, product, opts...)
}

// CreatePrice adds a price to the provider product. It returns nil without
// calling the provider when the product is unlinked.
func (s *ProductService) CreatePrice(ctx context.Context, id uuid.UUID, input CreatePriceInput) (*domainBilling.Price, error) {
	if err := validateInput(s.validate, input); err != nil {
		return nil, err
	}
	product, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.RemoteID() == "" {
		s.logger.Debug("Product not linked, skipping price creation",
			zap.String("product_id", id.String()))
		return nil, nil
	}

	currency := strings.ToLower(input.Currency)
	if currency == "" {
		currency = s.defaultCurrency
	}
	price, err := s.client.CreatePrice(ctx, domainBilling.CreatePriceInput{
		ProductID:         product.RemoteID(),
		UnitAmount:        input.UnitAmount,
		Currency:          currency,
		RecurringInterval: input.RecurringInterval,
		Nickname:          input.Nickname,
		ExtraFields:       input.Extra,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Price created",
		zap.String("product_id", id.String()),
		zap.String("price_id", price.ID),
		zap.String("unit_amount", price.UnitAmount.String()),
		zap.String("currency", price.Currency))
	return price, nil
}

// Prices lists the prices of the provider product. It returns nil without
// calling the provider when the product is unlinked.
func (s *ProductService) Prices(ctx context.Context, id uuid.UUID) ([]domainBilling.Price, error) {
	product, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if product.RemoteID() == "" {
		return nil, nil
	}
	return s.client.ListPrices(ctx, product.RemoteID())
}

// RemoteProduct retrieves the provider product, or nil when unlinked
func (s *ProductService) RemoteProduct(ctx context.Context, id uuid.UUID) (*domainBilling.RemoteProduct, error) {
	product, err := s.Find(ctx, id, persistence.WithDeleted)
	if err != nil {
		return nil, err
	}
	if product.RemoteID() == "" {
		return nil, nil
	}
	return s.client.RetrieveProduct(ctx, product.RemoteID())
}
