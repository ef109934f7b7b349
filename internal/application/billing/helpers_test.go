package billing

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domainBilling "github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/persistence/models"
	"github.com/billsync/backend/tests/testutil"
)

// =============================================================================
// Test environment
// =============================================================================

type testEnv struct {
	db     *persistence.Database
	remote *testutil.FakeRemoteClient
	svc    *Services
	logs   *observer.ObservedLogs
}

func defaultTestConfig() Config {
	return Config{
		DefaultCurrency:   "usd",
		ProrationBehavior: domainBilling.ProrationCreateProrations,
	}
}

// newTestEnv boots the services against SQLite and the in-memory provider.
// wrap, when given, decorates the fake before the services see it.
func newTestEnv(t *testing.T, cfg Config, wrap func(*testutil.FakeRemoteClient) domainBilling.RemoteClient) *testEnv {
	t.Helper()
	gdb := testutil.NewSQLiteDB(t, &models.CustomerModel{}, &models.ProductModel{}, &models.SubscriptionModel{})
	db := persistence.NewDatabaseFromGorm(gdb)
	remote := testutil.NewFakeRemoteClient()
	var client domainBilling.RemoteClient = remote
	if wrap != nil {
		client = wrap(remote)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	svc, err := Bootstrap(db, client, cfg, zap.New(core), nil)
	require.NoError(t, err)
	return &testEnv{db: db, remote: remote, svc: svc, logs: logs}
}

func (e *testEnv) count(t *testing.T, model any, scopes ...persistence.Scope) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.DB.Model(model).Scopes(scopes...).Count(&n).Error)
	return n
}

func (e *testEnv) createCustomer(t *testing.T) *models.CustomerModel {
	t.Helper()
	customer, err := e.svc.Customers.Create(context.Background(), CreateCustomerInput{
		Name:  gofakeit.Company(),
		Email: gofakeit.Email(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, customer.RemoteID())
	return customer
}

// unlinkedCustomer inserts a customer without going through the provider
func (e *testEnv) unlinkedCustomer(t *testing.T) *models.CustomerModel {
	t.Helper()
	customer := &models.CustomerModel{Name: gofakeit.Company(), Email: gofakeit.Email()}
	require.NoError(t, e.db.DB.Create(customer).Error)
	return customer
}

func (e *testEnv) subscribe(t *testing.T, customer *models.CustomerModel, priceID string) *models.SubscriptionModel {
	t.Helper()
	sub, err := e.svc.Subscriptions.Create(context.Background(), CreateSubscriptionInput{
		SubscriberType: customer.TableName(),
		SubscriberID:   customer.ID,
		PriceID:        priceID,
	})
	require.NoError(t, err)
	return sub
}

// =============================================================================
// Mock provider
// =============================================================================

// mockRemote forwards every call to the embedded client except the
// subscription update and cancel, which are driven by expectations.
type mockRemote struct {
	domainBilling.RemoteClient
	mock.Mock
}

func (m *mockRemote) UpdateSubscription(ctx context.Context, id, newPriceID string, proration domainBilling.ProrationBehavior) (*domainBilling.RemoteSubscription, error) {
	args := m.Called(ctx, id, newPriceID, proration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainBilling.RemoteSubscription), args.Error(1)
}

func (m *mockRemote) DeleteSubscription(ctx context.Context, id string, policy domainBilling.CancelPolicy) (*domainBilling.RemoteSubscription, error) {
	args := m.Called(ctx, id, policy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domainBilling.RemoteSubscription), args.Error(1)
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
