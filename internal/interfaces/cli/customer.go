package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	appbilling "github.com/billsync/backend/internal/application/billing"
	"github.com/billsync/backend/internal/infrastructure/persistence"
	"github.com/billsync/backend/internal/infrastructure/persistence/cascade"
)

func (a *app) customerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "customer",
		Short:   "Manage customers and their Stripe customers",
		Aliases: []string{"customers"},
	}
	cmd.AddCommand(
		a.customerCreateCommand(),
		a.customerShowCommand(),
		a.customerSyncCommand(),
		a.customerSoftDeleteCommand(),
		a.customerRestoreCommand(),
		a.customerDeleteCommand(),
		a.customerAttachPaymentMethodCommand(),
		a.customerPaymentMethodsCommand(),
	)
	return cmd
}

func (a *app) customerCreateCommand() *cobra.Command {
	var input appbilling.CreateCustomerInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a customer and its Stripe customer",
		Long: `Create a customer. The Stripe customer is created in the same
transaction; if Stripe rejects it no local row is kept.

Examples:
  billsync customer create --name "Ada Lovelace" --email ada@example.com
  billsync customer create --name Acme --invoice-now --prorate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			customer, err := a.rt.Services.Customers.Create(cmd.Context(), input)
			if err != nil {
				return err
			}
			return a.print(toCustomerView(customer))
		},
	}
	cmd.Flags().StringVar(&input.Name, "name", "", "customer name (required)")
	cmd.Flags().StringVar(&input.Email, "email", "", "customer email")
	cmd.Flags().StringVar(&input.Phone, "phone", "", "customer phone")
	cmd.Flags().BoolVar(&input.InvoiceNowOnCancel, "invoice-now", false, "invoice immediately when subscriptions are cancelled")
	cmd.Flags().BoolVar(&input.ProrateOnCancel, "prorate", false, "prorate when subscriptions are cancelled")
	return cmd
}

func (a *app) customerShowCommand() *cobra.Command {
	var withDeleted bool
	cmd := &cobra.Command{
		Use:   "show [customer-id]",
		Short: "Show a customer",
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
			customer, err := a.rt.Services.Customers.Find(cmd.Context(), id, scopes...)
			if err != nil {
				return err
			}
			return a.print(toCustomerView(customer))
		},
	}
	cmd.Flags().BoolVar(&withDeleted, "with-deleted", false, "include soft-deleted customers")
	return cmd
}

func (a *app) customerSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [customer-id]",
		Short: "Create the Stripe customer of an unlinked customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			customer, err := a.rt.Services.Customers.Sync(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(toCustomerView(customer))
		},
	}
}

func (a *app) customerSoftDeleteCommand() *cobra.Command {
	var nonRecursive bool
	cmd := &cobra.Command{
		Use:   "soft-delete [customer-id]",
		Short: "Soft-delete a customer and its subscriptions",
		Long: `Soft-delete a customer. Its subscriptions are soft-deleted with it
unless --non-recursive is given. Stripe is not contacted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			changed, err := a.rt.Services.Customers.SoftDelete(cmd.Context(), id, cascadeOptions(nonRecursive)...)
			if err != nil {
				return err
			}
			return a.print(changeView{ID: id, Changed: changed})
		},
	}
	cmd.Flags().BoolVar(&nonRecursive, "non-recursive", false, "leave dependent records untouched")
	return cmd
}

func (a *app) customerRestoreCommand() *cobra.Command {
	var nonRecursive bool
	cmd := &cobra.Command{
		Use:   "restore [customer-id]",
		Short: "Restore a soft-deleted customer and its subscriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			changed, err := a.rt.Services.Customers.Restore(cmd.Context(), id, cascadeOptions(nonRecursive)...)
			if err != nil {
				return err
			}
			return a.print(changeView{ID: id, Changed: changed})
		},
	}
	cmd.Flags().BoolVar(&nonRecursive, "non-recursive", false, "leave dependent records untouched")
	return cmd
}

func (a *app) customerDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [customer-id]",
		Short: "Delete a customer for good",
		Long: `Delete a customer permanently. Its subscriptions are cancelled in
Stripe and removed first. The Stripe customer is deleted only when
sync.delete_customer_on_destroy is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.rt.Services.Customers.Delete(cmd.Context(), id); err != nil {
				return err
			}
			return a.print(changeView{ID: id, Changed: true})
		},
	}
}

func (a *app) customerAttachPaymentMethodCommand() *cobra.Command {
	var setDefault bool
	cmd := &cobra.Command{
		Use:   "attach-payment-method [customer-id] [payment-method-id]",
		Short: "Attach a Stripe payment method to a customer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			pm, err := a.rt.Services.Customers.AttachPaymentMethod(cmd.Context(), id, args[1], setDefault)
			if err != nil {
				return err
			}
			if pm == nil {
				return fmt.Errorf("customer %s has no Stripe customer", id)
			}
			return a.print(toPaymentMethodView(*pm))
		},
	}
	cmd.Flags().BoolVar(&setDefault, "default", false, "make it the default payment method")
	return cmd
}

func (a *app) customerPaymentMethodsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "payment-methods [customer-id]",
		Short: "List the payment methods of a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			methods, err := a.rt.Services.Customers.PaymentMethods(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(mapSlice(methods, toPaymentMethodView))
		},
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func cascadeOptions(nonRecursive bool) []cascade.Option {
	if nonRecursive {
		return []cascade.Option{cascade.NonRecursive()}
	}
	return nil
}
