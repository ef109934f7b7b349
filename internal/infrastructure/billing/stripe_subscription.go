package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	domainBilling "github.com/billsync/backend/internal/domain/billing"
)

// CreateSubscription creates a single-item subscription for a customer
func (c *StripeClient) CreateSubscription(ctx context.Context, customerID, priceID string) (*domainBilling.RemoteSubscription, error) {
	c.logger.Debug("Creating Stripe subscription",
		zap.String("customer_id", customerID),
		zap.String("price_id", priceID))

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx

	sub, err := execute(ctx, c, func() (*stripe.Subscription, error) {
		return c.api.Subscriptions.New(params)
	})
	if err != nil {
		c.logger.Error("Failed to create Stripe subscription",
			zap.String("customer_id", customerID),
			zap.String("price_id", priceID),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to create subscription: %w", err)
	}

	c.logger.Info("Created Stripe subscription",
		zap.String("customer_id", customerID),
		zap.String("subscription_id", sub.ID))
	return toRemoteSubscription(sub), nil
}

// UpdateSubscription replaces the price of the subscription's single item.
// An empty proration falls back to the configured behavior.
func (c *StripeClient) UpdateSubscription(ctx context.Context, id, newPriceID string, proration domainBilling.ProrationBehavior) (*domainBilling.RemoteSubscription, error) {
	if proration == "" {
		proration = c.config.Proration()
	}

	c.logger.Debug("Updating Stripe subscription",
		zap.String("subscription_id", id),
		zap.String("new_price_id", newPriceID),
		zap.String("proration_behavior", string(proration)))

	current, err := c.RetrieveSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.ItemID == "" {
		return nil, fmt.Errorf("stripe: subscription %s has no items", id)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.ItemID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String(string(proration)),
	}
	params.Context = ctx

	sub, err := execute(ctx, c, func() (*stripe.Subscription, error) {
		return c.api.Subscriptions.Update(id, params)
	})
	if err != nil {
		c.logger.Error("Failed to update Stripe subscription",
			zap.String("subscription_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to update subscription: %w", err)
	}

	c.logger.Info("Updated Stripe subscription",
		zap.String("subscription_id", id),
		zap.String("price_id", newPriceID))
	return toRemoteSubscription(sub), nil
}

// DeleteSubscription cancels a subscription immediately
func (c *StripeClient) DeleteSubscription(ctx context.Context, id string, policy domainBilling.CancelPolicy) (*domainBilling.RemoteSubscription, error) {
	c.logger.Debug("Cancelling Stripe subscription",
		zap.String("subscription_id", id),
		zap.Bool("invoice_now", policy.InvoiceNow),
		zap.Bool("prorate", policy.Prorate))

	params := &stripe.SubscriptionCancelParams{
		InvoiceNow: stripe.Bool(policy.InvoiceNow),
		Prorate:    stripe.Bool(policy.Prorate),
	}
	params.Context = ctx

	sub, err := execute(ctx, c, func() (*stripe.Subscription, error) {
		return c.api.Subscriptions.Cancel(id, params)
	})
	if err != nil {
		c.logger.Error("Failed to cancel Stripe subscription",
			zap.String("subscription_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to cancel subscription: %w", err)
	}

	c.logger.Info("Cancelled Stripe subscription", zap.String("subscription_id", id))
	return toRemoteSubscription(sub), nil
}

// RetrieveSubscription retrieves a subscription from Stripe
func (c *StripeClient) RetrieveSubscription(ctx context.Context, id string) (*domainBilling.RemoteSubscription, error) {
	c.logger.Debug("Getting Stripe subscription", zap.String("subscription_id", id))

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := execute(ctx, c, func() (*stripe.Subscription, error) {
		return c.api.Subscriptions.Get(id, params)
	})
	if err != nil {
		c.logger.Error("Failed to get Stripe subscription",
			zap.String("subscription_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("stripe: failed to get subscription: %w", err)
	}
	return toRemoteSubscription(sub), nil
}

func toRemoteSubscription(sub *stripe.Subscription) *domainBilling.RemoteSubscription {
	out := &domainBilling.RemoteSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0)
		out.CanceledAt = &t
	}
	return out
}
