package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	appbilling "github.com/billsync/backend/internal/application/billing"
	domainBilling "github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/persistence"
)

func (a *app) productCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "product",
		Short:   "Manage products and their Stripe prices",
		Aliases: []string{"products"},
	}
	cmd.AddCommand(
		a.productCreateCommand(),
		a.productShowCommand(),
		a.productSyncCommand(),
		a.productSoftDeleteCommand(),
		a.productRestoreCommand(),
		a.productDeleteCommand(),
		a.productPriceCommand(),
		a.productPricesCommand(),
	)
	return cmd
}

func (a *app) productCreateCommand() *cobra.Command {
	var input appbilling.CreateProductInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product and its Stripe product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := a.rt.Services.Products.Create(cmd.Context(), input)
			if err != nil {
				return err
			}
			return a.print(toProductView(product))
		},
	}
	cmd.Flags().StringVar(&input.Name, "name", "", "product name (required)")
	cmd.Flags().StringVar(&input.Description, "description", "", "product description")
	return cmd
}

func (a *app) productShowCommand() *cobra.Command {
	var withDeleted bool
	cmd := &cobra.Command{
		Use:   "show [product-id]",
		Short: "Show a product",
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
			product, err := a.rt.Services.Products.Find(cmd.Context(), id, scopes...)
			if err != nil {
				return err
			}
			return a.print(toProductView(product))
		},
	}
	cmd.Flags().BoolVar(&withDeleted, "with-deleted", false, "include soft-deleted products")
	return cmd
}

func (a *app) productSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [product-id]",
		Short: "Create the Stripe product of an unlinked product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			product, err := a.rt.Services.Products.Sync(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(toProductView(product))
		},
	}
}

func (a *app) productSoftDeleteCommand() *cobra.Command {
	var nonRecursive bool
	cmd := &cobra.Command{
		Use:   "soft-delete [product-id]",
		Short: "Soft-delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			changed, err := a.rt.Services.Products.SoftDelete(cmd.Context(), id, cascadeOptions(nonRecursive)...)
			if err != nil {
				return err
			}
			return a.print(changeView{ID: id, Changed: changed})
		},
	}
	cmd.Flags().BoolVar(&nonRecursive, "non-recursive", false, "leave dependent records untouched")
	return cmd
}

func (a *app) productRestoreCommand() *cobra.Command {
	var nonRecursive bool
	cmd := &cobra.Command{
		Use:   "restore [product-id]",
		Short: "Restore a soft-deleted product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			changed, err := a.rt.Services.Products.Restore(cmd.Context(), id, cascadeOptions(nonRecursive)...)
			if err != nil {
				return err
			}
			return a.print(changeView{ID: id, Changed: changed})
		},
	}
	cmd.Flags().BoolVar(&nonRecursive, "non-recursive", false, "leave dependent records untouched")
	return cmd
}

func (a *app) productDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [product-id]",
		Short: "Delete a product for good",
		Long: `Delete a product permanently. The Stripe product is deleted only
when sync.delete_product_on_destroy is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.rt.Services.Products.Delete(cmd.Context(), id); err != nil {
				return err
			}
			return a.print(changeView{ID: id, Changed: true})
		},
	}
}

func (a *app) productPriceCommand() *cobra.Command {
	var (
		amount   string
		interval string
		input    appbilling.CreatePriceInput
	)
	cmd := &cobra.Command{
		Use:   "price [product-id]",
		Short: "Add a Stripe price to a product",
		Long: `Add a price to the Stripe product. The amount is in major units.

Examples:
  billsync product price 550e8400-e29b-41d4-a716-446655440000 --amount 9.99
  billsync product price 550e8400-e29b-41d4-a716-446655440000 --amount 100 --currency eur --interval month`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			input.UnitAmount, err = decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			input.RecurringInterval = domainBilling.RecurringInterval(interval)

			price, err := a.rt.Services.Products.CreatePrice(cmd.Context(), id, input)
			if err != nil {
				return err
			}
			if price == nil {
				return fmt.Errorf("product %s has no Stripe product", id)
			}
			return a.print(toPriceView(*price))
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "unit amount in major units, e.g. 9.99 (required)")
	cmd.Flags().StringVar(&input.Currency, "currency", "", "ISO currency code (default from stripe.default_currency)")
	cmd.Flags().StringVar(&interval, "interval", "", "recurring interval: day, week, month or year")
	cmd.Flags().StringVar(&input.Nickname, "nickname", "", "price nickname")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (a *app) productPricesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prices [product-id]",
		Short: "List the Stripe prices of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			prices, err := a.rt.Services.Products.Prices(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(mapSlice(prices, toPriceView))
		},
	}
}
