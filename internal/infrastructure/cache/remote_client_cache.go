package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/domain/billing"
)

const defaultKeyPrefix = "billsync:remote:"

// CachingClient is a read-through cache in front of a billing.RemoteClient.
// Product, price, customer and payment method reads are cached; writes go
// straight to the inner client and evict the keys they affect. Subscription
// reads are never cached. Cache failures are logged and fall back to the
// inner client.
type CachingClient struct {
	billing.RemoteClient
	redis     redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

var _ billing.RemoteClient = (*CachingClient)(nil)

// NewCachingClient wraps inner. A nil redis client or a non-positive ttl
// returns inner unchanged.
func NewCachingClient(inner billing.RemoteClient, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) billing.RemoteClient {
	if rdb == nil || ttl <= 0 {
		return inner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingClient{
		RemoteClient: inner,
		redis:        rdb,
		ttl:          ttl,
		keyPrefix:    defaultKeyPrefix,
		logger:       logger.Named("remote_cache"),
	}
}

func (c *CachingClient) customerKey(id string) string { return c.keyPrefix + "customer:" + id }
func (c *CachingClient) pmKey(id string) string       { return c.keyPrefix + "payment_methods:" + id }
func (c *CachingClient) productKey(id string) string  { return c.keyPrefix + "product:" + id }
func (c *CachingClient) pricesKey(id string) string   { return c.keyPrefix + "prices:" + id }

// RetrieveCustomer reads through the cache
func (c *CachingClient) RetrieveCustomer(ctx context.Context, id string) (*billing.RemoteCustomer, error) {
	return readThrough(ctx, c, c.customerKey(id), func() (*billing.RemoteCustomer, error) {
		return c.RemoteClient.RetrieveCustomer(ctx, id)
	})
}

// DestroyCustomer deletes the remote customer and evicts its cached reads
func (c *CachingClient) DestroyCustomer(ctx context.Context, id string) error {
	if err := c.RemoteClient.DestroyCustomer(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, c.customerKey(id), c.pmKey(id))
	return nil
}

// AttachPaymentMethod attaches and evicts the customer's cached reads
func (c *CachingClient) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string, setAsDefault bool) (*billing.PaymentMethod, error) {
	pm, err := c.RemoteClient.AttachPaymentMethod(ctx, customerID, paymentMethodID, setAsDefault)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, c.customerKey(customerID), c.pmKey(customerID))
	return pm, nil
}

// ListPaymentMethods reads through the cache
func (c *CachingClient) ListPaymentMethods(ctx context.Context, customerID string) ([]billing.PaymentMethod, error) {
	return readThrough(ctx, c, c.pmKey(customerID), func() ([]billing.PaymentMethod, error) {
		return c.RemoteClient.ListPaymentMethods(ctx, customerID)
	})
}

// RetrieveProduct reads through the cache
func (c *CachingClient) RetrieveProduct(ctx context.Context, id string) (*billing.RemoteProduct, error) {
	return readThrough(ctx, c, c.productKey(id), func() (*billing.RemoteProduct, error) {
		return c.RemoteClient.RetrieveProduct(ctx, id)
	})
}

// DestroyProduct deletes the remote product and evicts its cached reads
func (c *CachingClient) DestroyProduct(ctx context.Context, id string) error {
	if err := c.RemoteClient.DestroyProduct(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, c.productKey(id), c.pricesKey(id))
	return nil
}

// CreatePrice creates a price and evicts the product's cached price list
func (c *CachingClient) CreatePrice(ctx context.Context, input billing.CreatePriceInput) (*billing.Price, error) {
	p, err := c.RemoteClient.CreatePrice(ctx, input)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, c.pricesKey(input.ProductID))
	return p, nil
}

// ListPrices reads through the cache
func (c *CachingClient) ListPrices(ctx context.Context, productID string) ([]billing.Price, error) {
	return readThrough(ctx, c, c.pricesKey(productID), func() ([]billing.Price, error) {
		return c.RemoteClient.ListPrices(ctx, productID)
	})
}

func readThrough[T any](ctx context.Context, c *CachingClient, key string, load func() (T, error)) (T, error) {
	var cached T
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if jerr := json.Unmarshal(data, &cached); jerr == nil {
			return cached, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}

func (c *CachingClient) evict(ctx context.Context, keys ...string) {
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Cache eviction failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
