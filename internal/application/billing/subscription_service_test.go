package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/billsync/backend/internal/application/remotesync"
	domainBilling "github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/domain/shared"
	"github.com/billsync/backend/internal/domain/shared/hook"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/persistence/models"
	"github.com/billsync/backend/tests/testutil"
)

func TestSubscriptionService_Lifecycle(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	ctx := context.Background()

	customer := env.createCustomer(t)

	sub := env.subscribe(t, customer, "price_basic")
	require.NotEmpty(t, sub.RemoteID())
	assert.Equal(t, domainBilling.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, domainBilling.StateActive, sub.State())
	assert.Equal(t, 1, env.remote.CallCount("CreateSubscription"))

	remote := env.remote.Subscription(sub.RemoteID())
	require.NotNil(t, remote)
	assert.Equal(t, customer.RemoteID(), remote.CustomerID)
	assert.Equal(t, "price_basic", remote.PriceID)

	updated, err := env.svc.Subscriptions.ChangePrice(ctx, sub.ID, "price_premium")
	require.NoError(t, err)
	assert.Equal(t, "price_premium", updated.StripePriceID)
	assert.Equal(t, 1, env.remote.CallCount("UpdateSubscription"))
	assert.Equal(t, "price_premium", env.remote.Subscription(sub.RemoteID()).PriceID)
	assert.Equal(t, domainBilling.ProrationCreateProrations, env.remote.LastProration)

	assert.Equal(t, domainBilling.StateUpdated, updated.State())

	stored, err := env.svc.Subscriptions.Find(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "price_premium", stored.StripePriceID)
	assert.Equal(t, domainBilling.StateUpdated, stored.State())
	assert.Equal(t, domainBilling.SubscriptionStatusActive, stored.Status)

	_, err = env.svc.Subscriptions.ChangePrice(ctx, sub.ID, "price_enterprise")
	require.NoError(t, err)
	assert.Equal(t, 2, env.remote.CallCount("UpdateSubscription"))

	before := env.count(t, &models.SubscriptionModel{})
	destroyed, err := env.svc.Subscriptions.Destroy(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domainBilling.SubscriptionStatusCancelled, destroyed.Status)
	assert.NotNil(t, destroyed.CanceledAt)
	assert.Empty(t, destroyed.RemoteID())
	assert.Equal(t, 1, env.remote.CallCount("DeleteSubscription"))
	assert.Equal(t, before-1, env.count(t, &models.SubscriptionModel{}))
	assert.Equal(t, "canceled", env.remote.Subscription(remote.ID).Status)
}

func TestSubscriptionService_Create_RequiresRemoteCustomer(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	customer := env.unlinkedCustomer(t)

	_, err := env.svc.Subscriptions.Create(context.Background(), CreateSubscriptionInput{
		SubscriberType: customer.TableName(),
		SubscriberID:   customer.ID,
		PriceID:        "price_basic",
	})
	require.Error(t, err)

	ve, ok := shared.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, []string{domainBilling.ErrMissingRemoteCustomer.Error()}, ve.Fields.On("subscriber"))
	assert.Contains(t, err.Error(), "stripe_customer_id is required")

	assert.Empty(t, env.remote.Calls())
	assert.Equal(t, int64(0), env.count(t, &models.SubscriptionModel{}, persistence.WithDeleted))
}

func TestSubscriptionService_Create_Validation(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	ctx := context.Background()
	customer := env.createCustomer(t)

	tests := []struct {
		name      string
		input     CreateSubscriptionInput
		wantField string
	}{
		{
			name:      "missing price",
			input:     CreateSubscriptionInput{SubscriberType: "customers", SubscriberID: customer.ID},
			wantField: "price_id",
		},
		{
			name:      "unknown subscriber type",
			input:     CreateSubscriptionInput{SubscriberType: "vendors", SubscriberID: customer.ID, PriceID: "price_basic"},
			wantField: "subscriber_type",
		},
		{
			name:      "unknown subscriber",
			input:     CreateSubscriptionInput{SubscriberType: "customers", SubscriberID: uuid.New(), PriceID: "price_basic"},
			wantField: "subscriber",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Subscriptions.Create(ctx, tt.input)
			ve, ok := shared.AsValidationError(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.NotEmpty(t, ve.Fields.On(tt.wantField))
		})
	}
	assert.Equal(t, 0, env.remote.CallCount("CreateSubscription"))
}

func TestSubscriptionService_Create_SoftDeletedSubscriber(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	ctx := context.Background()
	customer := env.createCustomer(t)

	deleted, err := env.svc.Customers.SoftDelete(ctx, customer.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = env.svc.Subscriptions.Create(ctx, CreateSubscriptionInput{
		SubscriberType: customer.TableName(),
		SubscriberID:   customer.ID,
		PriceID:        "price_basic",
	})
	ve, ok := shared.AsValidationError(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Equal(t, []string{"must exist"}, ve.Fields.On("subscriber"))
	assert.Equal(t, 0, env.remote.CallCount("CreateSubscription"))
	assert.Equal(t, int64(0), env.count(t, &models.SubscriptionModel{}, persistence.WithDeleted))
}

func TestSubscriptionService_Destroy_SoftDeletedSubscriber(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	ctx := context.Background()

	customer, err := env.svc.Customers.Create(ctx, CreateCustomerInput{Name: "Acme", InvoiceNowOnCancel: true})
	require.NoError(t, err)
	sub := env.subscribe(t, customer, "price_basic")

	_, err = env.svc.Customers.SoftDelete(ctx, customer.ID)
	require.NoError(t, err)

	_, err = env.svc.Subscriptions.Destroy(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domainBilling.CancelPolicy{InvoiceNow: true}, env.remote.LastCancelPolicy)
}

func TestSubscriptionService_Create_ProviderFailureLeavesNoRow(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	customer := env.createCustomer(t)
	env.remote.FailOn("CreateSubscription", errors.New("no such price: 'price_gone'"))

	_, err := env.svc.Subscriptions.Create(context.Background(), CreateSubscriptionInput{
		SubscriberType: customer.TableName(),
		SubscriberID:   customer.ID,
		PriceID:        "price_gone",
	})
	require.Error(t, err)
	assert.Equal(t, int64(0), env.count(t, &models.SubscriptionModel{}, persistence.WithDeleted))
}

func TestSubscriptionService_Create_HookAbort(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	customer := env.createCustomer(t)

	hooks, err := env.svc.Sync.Hooks(&models.SubscriptionModel{})
	require.NoError(t, err)
	_, err = hooks.Before(hook.RemoteCreation, func(ctx context.Context, rec remotesync.RemoteBacked) hook.Result {
		return hook.Abort("trial already used")
	})
	require.NoError(t, err)

	_, err = env.svc.Subscriptions.Create(context.Background(), CreateSubscriptionInput{
		SubscriberType: customer.TableName(),
		SubscriberID:   customer.ID,
		PriceID:        "price_basic",
	})
	_, ok := shared.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, int64(0), env.count(t, &models.SubscriptionModel{}, persistence.WithDeleted))
	assert.Equal(t, 0, env.remote.CallCount("CreateSubscription"))
}

func TestSubscriptionService_ChangePrice_SamePriceIsNoop(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	customer := env.createCustomer(t)
	sub := env.subscribe(t, customer, "price_basic")

	_, err := env.svc.Subscriptions.ChangePrice(context.Background(), sub.ID, "price_basic")
	require.NoError(t, err)
	assert.Equal(t, 0, env.remote.CallCount("UpdateSubscription"))
}

func TestSubscriptionService_ChangePrice_ProviderFailureKeepsPrice(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.ProrationBehavior = domainBilling.ProrationNone
	var client *mockRemote
	env := newTestEnv(t, cfg, func(fake *testutil.FakeRemoteClient) domainBilling.RemoteClient {
		client = &mockRemote{RemoteClient: fake}
		return client
	})
	ctx := context.Background()
	customer := env.createCustomer(t)
	sub := env.subscribe(t, customer, "price_basic")

	client.On("UpdateSubscription", mock.Anything, sub.RemoteID(), "price_premium", domainBilling.ProrationNone).
		Return(nil, errors.New("no such price: 'price_premium'"))

	_, err := env.svc.Subscriptions.ChangePrice(ctx, sub.ID, "price_premium")
	require.Error(t, err)
	client.AssertExpectations(t)

	stored, err := env.svc.Subscriptions.Find(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "price_basic", stored.StripePriceID)
}

func TestSubscriptionService_ChangePrice_RequiresPrice(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	customer := env.createCustomer(t)
	sub := env.subscribe(t, customer, "price_basic")

	_, err := env.svc.Subscriptions.ChangePrice(context.Background(), sub.ID, "")
	_, ok := shared.AsValidationError(err)
	assert.True(t, ok)
}

func TestSubscriptionService_Destroy_CancelFailureKeepsRow(t *testing.T) {
	var client *mockRemote
	env := newTestEnv(t, defaultTestConfig(), func(fake *testutil.FakeRemoteClient) domainBilling.RemoteClient {
		client = &mockRemote{RemoteClient: fake}
		return client
	})
	ctx := context.Background()

	customer, err := env.svc.Customers.Create(ctx, CreateCustomerInput{
		Name:            "Acme",
		ProrateOnCancel: true,
	})
	require.NoError(t, err)
	sub := env.subscribe(t, customer, "price_basic")
	remoteID := sub.RemoteID()

	client.On("DeleteSubscription", mock.Anything, remoteID, domainBilling.CancelPolicy{Prorate: true}).
		Return(nil, errors.New("subscription is locked by a pending invoice"))

	refused, err := env.svc.Subscriptions.Destroy(ctx, sub.ID)
	require.Error(t, err)
	client.AssertExpectations(t)

	ve, ok := shared.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"subscription is locked by a pending invoice"}, ve.Fields.On(shared.BaseField))

	require.NotNil(t, refused)
	assert.False(t, refused.Errors.Empty())
	assert.Equal(t, remoteID, refused.RemoteID())

	stored, err := env.svc.Subscriptions.Find(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, remoteID, stored.RemoteID())
	assert.Equal(t, domainBilling.SubscriptionStatusActive, stored.Status)
}

func TestSubscriptionService_Destroy_StorageFailure(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	ctx := context.Background()
	customer := env.createCustomer(t)
	sub := env.subscribe(t, customer, "price_basic")
	remoteID := sub.RemoteID()

	diskErr := errors.New("disk I/O error")
	err := env.db.DB.Callback().Delete().Before("gorm:delete").Register("test:fail_subscription_delete", func(tx *gorm.DB) {
		if tx.Statement.Table == "subscriptions" {
			_ = tx.AddError(diskErr)
		}
	})
	require.NoError(t, err)

	got, err := env.svc.Subscriptions.Destroy(ctx, sub.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, diskErr)
	_, isValidation := shared.AsValidationError(err)
	assert.False(t, isValidation)

	require.NotNil(t, got)
	assert.Equal(t, remoteID, got.RemoteID())
	assert.Equal(t, domainBilling.SubscriptionStatusActive, got.Status)
	assert.Nil(t, got.CanceledAt)
	assert.True(t, got.Errors.Empty())

	stored, err := env.svc.Subscriptions.Find(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, remoteID, stored.RemoteID())
	assert.Equal(t, domainBilling.SubscriptionStatusActive, stored.Status)

	assert.Equal(t, 1, env.remote.CallCount("DeleteSubscription"))
	outOfStep := env.logs.FilterMessage("Subscription cancelled in Stripe but the local row was not deleted")
	require.Equal(t, 1, outOfStep.Len())
	assert.Equal(t, remoteID, outOfStep.All()[0].ContextMap()["stripe_subscription_id"])
}

func TestSubscriptionService_Destroy_UnlinkedSkipsProvider(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	ctx := context.Background()
	customer := env.createCustomer(t)

	sub := &models.SubscriptionModel{
		SubscriberType: customer.TableName(),
		SubscriberID:   customer.ID,
		StripePriceID:  "price_basic",
		Status:         domainBilling.SubscriptionStatusActive,
	}
	require.NoError(t, env.db.DB.Create(sub).Error)

	remote, err := env.svc.Subscriptions.RemoteSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, remote)

	_, err = env.svc.Subscriptions.Destroy(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, env.remote.CallCount("DeleteSubscription"))
	assert.Equal(t, 0, env.remote.CallCount("RetrieveSubscription"))
	assert.Equal(t, int64(0), env.count(t, &models.SubscriptionModel{}, persistence.WithDeleted))
}

func TestSubscriptionService_RemoteSubscription(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), nil)
	customer := env.createCustomer(t)
	sub := env.subscribe(t, customer, "price_basic")

	remote, err := env.svc.Subscriptions.RemoteSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, sub.RemoteID(), remote.ID)
	assert.Equal(t, "active", remote.Status)
}
