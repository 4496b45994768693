package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/session"
	"github.com/flemzord/tabkeeper/pkg/app"
)

// reconcileAnswers holds the operator's choices, from flags or the form.
type reconcileAnswers struct {
	SessionID string
	PaymentID string
	Confirmed bool
}

func reconcileCmd() *cobra.Command {
	var (
		answers reconcileAnswers
		list    bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve sessions flagged for manual reconciliation",
		Long: `Resolve sessions whose checkout link was created at the gateway but
could not be recorded locally.

Without flags an interactive form lists the flagged sessions, asks for the
payment id found in the gateway dashboard and confirms before clearing the
flag. An empty payment id only clears the flag.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			application, err := app.Build(params)
			if err != nil {
				return err
			}
			defer application.Close()

			svc, err := reconcileService(application.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			report, err := svc.Reconciliation(ctx)
			if err != nil {
				return err
			}
			if list {
				printFlagged(out, report.Flagged)
				return nil
			}
			if len(report.Flagged) == 0 {
				fmt.Fprintln(out, "No sessions awaiting reconciliation.")
				return nil
			}

			if answers.SessionID == "" || !answers.Confirmed {
				if err := reconcileForm(report.Flagged, &answers).RunWithContext(ctx); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						fmt.Fprintln(out, "Aborted.")
						return nil
					}
					return err
				}
			}
			if !answers.Confirmed {
				fmt.Fprintln(out, "Nothing changed.")
				return nil
			}

			view, err := resolveFlagged(ctx, svc, answers)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Session %s resolved (status %s, payment %q, version %d)\n",
				view.SessionID, view.Status, view.PaymentID, view.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List flagged sessions and exit")
	cmd.Flags().StringVar(&answers.SessionID, "session", "", "Session to resolve")
	cmd.Flags().StringVar(&answers.PaymentID, "payment-id", "", "Gateway payment id confirmed by the operator")
	cmd.Flags().BoolVarP(&answers.Confirmed, "yes", "y", false, "Skip the confirmation form")
	return cmd
}

// reconcileService returns the payment engine, refusing the in-memory
// store: flags held there die with the process.
func reconcileService(appCtx *core.AppContext) (*checkout.Service, error) {
	if _, ok := appCtx.GetService(payment.StoreService); !ok {
		return nil, errors.New("reconcile needs a persistent store: configure store.sqlite or store.postgres")
	}
	svc, ok := core.ServiceAs[*checkout.Service](appCtx, checkout.ServiceName)
	if !ok {
		return nil, errors.New("module payment.engine is not configured")
	}
	return svc, nil
}

func resolveFlagged(ctx context.Context, svc *checkout.Service, a reconcileAnswers) (payment.View, error) {
	sc, err := session.New(a.SessionID)
	if err != nil {
		return payment.View{}, err
	}
	return svc.Resolve(ctx, sc, payment.Resolution{PaymentID: a.PaymentID})
}

func reconcileForm(flagged []payment.View, a *reconcileAnswers) *huh.Form {
	var options []huh.Option[string]
	for _, v := range flagged {
		label := fmt.Sprintf("%s  tab %s  balance %s  %s", v.SessionID, v.TabTotal, v.Balance, v.Status)
		options = append(options, huh.NewOption(label, v.SessionID))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Flagged session").
				Options(options...).
				Value(&a.SessionID),
			huh.NewInput().
				Title("Gateway payment id").
				Description("Leave empty to only clear the flag.").
				Placeholder("plink_...").
				Validate(validatePaymentID).
				Value(&a.PaymentID),
			huh.NewConfirm().
				Title("Clear the reconciliation flag?").
				Affirmative("Resolve").
				Negative("Cancel").
				Value(&a.Confirmed),
		),
	)
}

func validatePaymentID(id string) error {
	if id != "" && !payment.ValidPaymentID(id) {
		return fmt.Errorf("%q is not a gateway payment id", id)
	}
	return nil
}

func printFlagged(w io.Writer, flagged []payment.View) {
	if len(flagged) == 0 {
		fmt.Fprintln(w, "No sessions awaiting reconciliation.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tTAB\tBALANCE\tSTATUS\tPAYMENT")
	for _, v := range flagged {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.SessionID, v.TabTotal, v.Balance, v.Status, v.PaymentID)
	}
	_ = tw.Flush()
}
