package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/application/remotesync"
	domainBilling "github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/domain/shared"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/persistence/models"
)

// Subscriber is a record that can own subscriptions
type Subscriber interface {
	GetID() uuid.UUID
	RemoteID() string
	CancelPolicy() domainBilling.CancelPolicy
}

// SubscriberLoader loads a subscriber of one type by id in the query mode
// selected by scope.
type SubscriberLoader func(ctx context.Context, id uuid.UUID, scope persistence.Scope) (Subscriber, error)

// errRemoteSubscriptionAborted rolls back a subscription whose remote
// creation was aborted by a hook.
var errRemoteSubscriptionAborted = errors.New("remote subscription creation was aborted")

// SubscriptionService drives the subscription lifecycle:
//
//	pending -> active <-> updated -> cancelled
//
// A subscription exists locally only while its remote subscription exists.
type SubscriptionService struct {
	db        *persistence.Database
	repo      *persistence.Repository[models.SubscriptionModel]
	sync      *remotesync.Engine
	client    domainBilling.SubscriptionClient
	proration domainBilling.ProrationBehavior
	validate  *validator.Validate
	logger    *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]SubscriberLoader
}

// NewSubscriptionService creates a new SubscriptionService. Price changes
// are sent with the given proration behavior.
func NewSubscriptionService(
	db *persistence.Database,
	syncEngine *remotesync.Engine,
	client domainBilling.SubscriptionClient,
	proration domainBilling.ProrationBehavior,
	logger *zap.Logger,
) *SubscriptionService {
	if !proration.IsValid() {
		proration = domainBilling.ProrationCreateProrations
	}
	return &SubscriptionService{
		db:          db,
		repo:        persistence.NewRepository[models.SubscriptionModel](db.DB),
		sync:        syncEngine,
		client:      client,
		proration:   proration,
		validate:    newValidator(),
		logger:      logger.Named("subscription_service"),
		subscribers: make(map[string]SubscriberLoader),
	}
}

// RegisterSubscriber makes records of table usable as subscribers.
// Registering a table again replaces its loader.
func (s *SubscriptionService) RegisterSubscriber(table string, loader SubscriberLoader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[table] = loader
}

func (s *SubscriptionService) loadSubscriber(ctx context.Context, table string, id uuid.UUID, scope persistence.Scope) (Subscriber, error) {
	s.mu.RLock()
	loader, ok := s.subscribers[table]
	s.mu.RUnlock()
	if !ok {
		return nil, shared.NewValidationError("subscriber_type", "is not a registered subscriber type")
	}
	sub, err := loader(ctx, id, scope)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.NewValidationError("subscriber", "must exist")
	}
	return sub, err
}

// Find loads an active subscription
func (s *SubscriptionService) Find(ctx context.Context, id uuid.UUID, scopes ...persistence.Scope) (*models.SubscriptionModel, error) {
	return s.repo.FindByID(ctx, id, scopes...)
}

// Create subscribes a subscriber to a price. The subscriber must not be
// soft-deleted and must already have a provider customer; otherwise a
// validation error is returned and the provider is not called. The local row and the remote subscription
// are created together or not at all.
func (s *SubscriptionService) Create(ctx context.Context, input CreateSubscriptionInput) (*models.SubscriptionModel, error) {
	if err := validateInput(s.validate, input); err != nil {
		return nil, err
	}
	subscriber, err := s.loadSubscriber(ctx, input.SubscriberType, input.SubscriberID, persistence.ActiveOnly)
	if err != nil {
		return nil, err
	}
	if subscriber.RemoteID() == "" {
		return nil, shared.NewValidationError("subscriber", domainBilling.ErrMissingRemoteCustomer.Error())
	}

	state, err := domainBilling.StatePending.Next(domainBilling.EventCreate)
	if err != nil {
		return nil, err
	}
	sub := &models.SubscriptionModel{
		SubscriberType:   input.SubscriberType,
		SubscriberID:     input.SubscriberID,
		ProductID:        input.ProductID,
		StripePriceID:    input.PriceID,
		Status:           state.Status(),
		RemoteCustomerID: subscriber.RemoteID(),
	}

	err = s.db.Transaction(ctx, func(ctx context.Context) error {
		if err := s.db.Conn(ctx).Create(sub).Error; err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		linked, err := s.sync.CreateRemote(ctx, sub)
		if err != nil {
			return err
		}
		if !linked {
			return errRemoteSubscriptionAborted
		}
		return nil
	})
	if errors.Is(err, errRemoteSubscriptionAborted) {
		return nil, shared.NewValidationError(shared.BaseField, err.Error())
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("stripe_subscription_id", sub.RemoteID()),
		zap.String("price_id", sub.StripePriceID))
	return sub, nil
}

// ChangePrice moves an active subscription to another price. Setting the
// current price is a no-op that does not reach the provider. Provider
// errors are returned as is and leave the row unchanged.
func (s *SubscriptionService) ChangePrice(ctx context.Context, id uuid.UUID, priceID string) (*models.SubscriptionModel, error) {
	if priceID == "" {
		return nil, shared.NewValidationError("price_id", "is required")
	}
	sub, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := sub.State().Next(domainBilling.EventChangePrice); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidState, err)
	}

	changed, err := remotesync.UpdateRemote(ctx, s.sync, sub, sub.StripePriceID, priceID, func(ctx context.Context) error {
		_, err := s.client.UpdateSubscription(ctx, sub.RemoteID(), priceID, s.proration)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return sub, nil
	}

	now := time.Now().UTC()
	err = s.db.Conn(ctx).Model(sub).Updates(map[string]any{
		"stripe_price_id":  priceID,
		"price_changed_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription price: %w", err)
	}
	sub.StripePriceID = priceID
	sub.PriceChangedAt = &now
	s.logger.Info("Subscription price changed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("price_id", priceID))
	return sub, nil
}

// Destroy cancels the remote subscription and then removes the row. The
// cancel options come from the subscriber. When the provider refuses, the
// row is kept with its remote id, the failure is attached to the returned
// record's Errors and a *shared.ValidationError is returned. Storage errors
// are returned as is. On any failure the returned record is left as it was
// loaded, remote id included.
func (s *SubscriptionService) Destroy(ctx context.Context, id uuid.UUID) (*models.SubscriptionModel, error) {
	sub, err := s.Find(ctx, id, persistence.WithDeleted)
	if err != nil {
		return nil, err
	}
	if err := s.attachCancelOptions(ctx, sub); err != nil {
		return nil, err
	}

	remoteID, status, canceledAt := sub.RemoteID(), sub.Status, sub.CanceledAt
	err = s.db.Transaction(ctx, func(ctx context.Context) error {
		return s.destroy(ctx, sub)
	})
	if err == nil {
		return sub, nil
	}

	sub.SetRemoteID(remoteID)
	sub.Status = status
	sub.CanceledAt = canceledAt

	var refused *cancelRefusedError
	if !errors.As(err, &refused) {
		return sub, err
	}
	s.logger.Warn("Subscription destroy refused",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("stripe_subscription_id", remoteID),
		zap.Error(refused.err))
	sub.Errors.Add(shared.BaseField, refused.err.Error())
	return sub, &shared.ValidationError{Fields: sub.Errors}
}

// cancelRefusedError marks a destroy that the provider or a hook refused
type cancelRefusedError struct {
	err error
}

func (e *cancelRefusedError) Error() string { return e.err.Error() }

func (e *cancelRefusedError) Unwrap() error { return e.err }

func (s *SubscriptionService) attachCancelOptions(ctx context.Context, sub *models.SubscriptionModel) error {
	subscriber, err := s.loadSubscriber(ctx, sub.SubscriberType, sub.SubscriberID, persistence.WithDeleted)
	if err != nil {
		var ve *shared.ValidationError
		if errors.As(err, &ve) {
			// orphaned rows are cancelled with the provider defaults
			return nil
		}
		return err
	}
	sub.CancelOptions = subscriber.CancelPolicy()
	sub.RemoteCustomerID = subscriber.RemoteID()
	return nil
}

// destroy cancels and removes sub inside the caller's transaction
func (s *SubscriptionService) destroy(ctx context.Context, sub *models.SubscriptionModel) error {
	if _, err := sub.State().Next(domainBilling.EventCancel); err != nil && sub.RemoteID() != "" {
		return fmt.Errorf("%w: %v", shared.ErrInvalidState, err)
	}

	remoteID := sub.RemoteID()
	cancelled, err := s.sync.DeleteRemote(ctx, sub)
	if err != nil {
		if shared.IsConfigurationError(err) {
			return err
		}
		return &cancelRefusedError{err: err}
	}
	if remoteID != "" && !cancelled {
		return &cancelRefusedError{err: errors.New("remote subscription cancellation was aborted")}
	}

	if err := s.db.Conn(ctx).Unscoped().Delete(sub).Error; err != nil {
		if cancelled {
			s.logger.Error("Subscription cancelled in Stripe but the local row was not deleted",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("stripe_subscription_id", remoteID),
				zap.Error(err))
		}
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	sub.Status = domainBilling.StateCancelled.Status()
	if sub.CanceledAt == nil {
		now := time.Now().UTC()
		sub.CanceledAt = &now
	}
	s.logger.Info("Subscription destroyed",
		zap.String("subscription_id", sub.ID.String()),
		zap.Bool("remote_cancelled", cancelled))
	return nil
}

// destroyAllFor cancels and removes every subscription of one subscriber,
// soft-deleted ones included. The first failure is returned.
func (s *SubscriptionService) destroyAllFor(ctx context.Context, subscriberType string, subscriberID uuid.UUID, policy domainBilling.CancelPolicy) error {
	var subs []models.SubscriptionModel
	err := s.db.Conn(ctx).
		Scopes(persistence.WithDeleted).
		Where("subscriber_type = ? AND subscriber_id = ?", subscriberType, subscriberID).
		Find(&subs).Error
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	for i := range subs {
		sub := &subs[i]
		sub.CancelOptions = policy
		if err := s.destroy(ctx, sub); err != nil {
			return fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
	}
	return nil
}

// RemoteSubscription retrieves the provider subscription, or nil when the
// subscription is not linked.
func (s *SubscriptionService) RemoteSubscription(ctx context.Context, id uuid.UUID) (*domainBilling.RemoteSubscription, error) {
	sub, err := s.Find(ctx, id, persistence.WithDeleted)
	if err != nil {
		return nil, err
	}
	if sub.RemoteID() == "" {
		return nil, nil
	}
	return s.client.RetrieveSubscription(ctx, sub.RemoteID())
}
