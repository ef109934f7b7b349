package cli

import (
	"github.com/spf13/cobra"

	appbilling "github.com/billsync/backend/internal/application/billing"
	"github.com/billsync/backend/internal/infrastructure/persistence"
)

func (a *app) subscriptionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscription",
		Short:   "Manage subscriptions",
		Aliases: []string{"subscriptions", "sub"},
	}
	cmd.AddCommand(
		a.subscriptionCreateCommand(),
		a.subscriptionShowCommand(),
		a.subscriptionChangePriceCommand(),
		a.subscriptionDestroyCommand(),
	)
	return cmd
}

func (a *app) subscriptionCreateCommand() *cobra.Command {
	var (
		subscriber string
		product    string
		input      = appbilling.CreateSubscriptionInput{SubscriberType: "customers"}
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Subscribe a customer to a Stripe price",
		Long: `Create a subscription. The subscriber must already have a Stripe
customer; the Stripe subscription is created in the same transaction.

Examples:
  billsync subscription create --subscriber 550e8400-e29b-41d4-a716-446655440000 --price price_123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(subscriber)
			if err != nil {
				return err
			}
			input.SubscriberID = id
			if product != "" {
				pid, err := parseID(product)
				if err != nil {
					return err
				}
				input.ProductID = &pid
			}
			sub, err := a.rt.Services.Subscriptions.Create(cmd.Context(), input)
			if err != nil {
				return err
			}
			return a.print(toSubscriptionView(sub))
		},
	}
	cmd.Flags().StringVar(&subscriber, "subscriber", "", "subscriber id (required)")
	cmd.Flags().StringVar(&input.SubscriberType, "subscriber-type", input.SubscriberType, "subscriber table")
	cmd.Flags().StringVar(&input.PriceID, "price", "", "Stripe price id (required)")
	cmd.Flags().StringVar(&product, "product", "", "local product id")
	_ = cmd.MarkFlagRequired("subscriber")
	return cmd
}

func (a *app) subscriptionShowCommand() *cobra.Command {
	var withDeleted bool
	cmd := &cobra.Command{
		Use:   "show [subscription-id]",
		Short: "Show a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var scopes []persistence.Scope
			if withDeleted {
				scopes = append(scopes, persistence.WithDeleted)
			}
			sub, err := a.rt.Services.Subscriptions.Find(cmd.Context(), id, scopes...)
			if err != nil {
				return err
			}
			return a.print(toSubscriptionView(sub))
		},
	}
	cmd.Flags().BoolVar(&withDeleted, "with-deleted", false, "include soft-deleted subscriptions")
	return cmd
}

func (a *app) subscriptionChangePriceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "change-price [subscription-id] [price-id]",
		Short: "Move a subscription to another Stripe price",
		Long: `Change the price of an active subscription. Stripe prorates the
change as configured by stripe.proration_behavior. Changing to the current
price does nothing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sub, err := a.rt.Services.Subscriptions.ChangePrice(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			return a.print(toSubscriptionView(sub))
		},
	}
}

func (a *app) subscriptionDestroyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy [subscription-id]",
		Short: "Cancel a subscription in Stripe and delete it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sub, err := a.rt.Services.Subscriptions.Destroy(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(toSubscriptionView(sub))
		},
	}
}
