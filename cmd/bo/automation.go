package main

import (
	"fmt"
	"io"

	"github.com/fixaren/backoffice/internal/models"
	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/spf13/cobra"
)

func newAutomationCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automation",
		Short: "Automation settings and triggers",
	}
	cmd.AddCommand(newAutomationShowCmd(a))
	cmd.AddCommand(newAutomationSetCmd(a))
	cmd.AddCommand(newAutomationTriggerCmd(a))
	return cmd
}

func newAutomationShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the tenant's automation settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				settings, err := rt.svc.GetAutomationSettings(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				return a.printSettings(cmd.OutOrStdout(), settings)
			})
		},
	}
}

func newAutomationSetCmd(a *app) *cobra.Command {
	var (
		booking, quote, invoice, notifyWon bool
		staleDays                          int
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change automation settings; unset flags are left alone",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p pipeline.AutomationPatch
			flags := cmd.Flags()
			if flags.Changed("auto-create-on-booking") {
				p.AutoCreateOnBooking = &booking
			}
			if flags.Changed("advance-on-quote-sent") {
				p.AdvanceOnQuoteSent = &quote
			}
			if flags.Changed("advance-on-invoice-paid") {
				p.AdvanceOnInvoicePaid = &invoice
			}
			if flags.Changed("stale-lead-days") {
				p.StaleLeadDays = &staleDays
			}
			if flags.Changed("notify-on-won") {
				p.NotifyOnWon = &notifyWon
			}
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				ctx := cmd.Context()
				// Settings are created on first read.
				if _, err := rt.svc.GetAutomationSettings(ctx, tenant); err != nil {
					return err
				}
				settings, err := rt.svc.UpdateAutomationSettings(ctx, tenant, p)
				if err != nil {
					return err
				}
				return a.printSettings(cmd.OutOrStdout(), settings)
			})
		},
	}
	cmd.Flags().BoolVar(&booking, "auto-create-on-booking", true, "create a deal when a booking is made")
	cmd.Flags().BoolVar(&quote, "advance-on-quote-sent", true, "move deals to quoted when a quote is sent")
	cmd.Flags().BoolVar(&invoice, "advance-on-invoice-paid", true, "move deals to won when the invoice is paid")
	cmd.Flags().IntVar(&staleDays, "stale-lead-days", 0, "close leads idle this many days as lost (0 disables)")
	cmd.Flags().BoolVar(&notifyWon, "notify-on-won", true, "announce won deals in team chat")
	return cmd
}

func (a *app) printSettings(out io.Writer, s *models.AutomationSettings) error {
	if a.wantJSON(out) {
		return printJSON(out, s)
	}
	fmt.Fprintf(out, "Tenant:                  %s\n", s.TenantID)
	fmt.Fprintf(out, "Auto-create on booking:  %t\n", s.AutoCreateOnBooking)
	fmt.Fprintf(out, "Advance on quote sent:   %t\n", s.AdvanceOnQuoteSent)
	fmt.Fprintf(out, "Advance on invoice paid: %t\n", s.AdvanceOnInvoicePaid)
	fmt.Fprintf(out, "Stale lead days:         %d\n", s.StaleLeadDays)
	fmt.Fprintf(out, "Notify on won:           %t\n", s.NotifyOnWon)
	return nil
}

func newAutomationTriggerCmd(a *app) *cobra.Command {
	var (
		t        pipeline.Trigger
		customer string
		value    string
	)
	cmd := &cobra.Command{
		Use:       "trigger <booking_created|quote_sent|invoice_paid>",
		Short:     "Raise an external event against the automation rules",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{pipeline.TriggerBookingCreated, pipeline.TriggerQuoteSent, pipeline.TriggerInvoicePaid},
		RunE: func(cmd *cobra.Command, args []string) error {
			t.Kind = args[0]
			v, err := parseValue(value)
			if err != nil {
				return err
			}
			t.Value = v
			if customer != "" {
				t.CustomerID = &customer
			}
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				res, err := rt.svc.HandleTrigger(cmd.Context(), tenant, t)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, res)
				}
				switch {
				case !res.Applied:
					fmt.Fprintf(out, "Not applied: %s\n", res.Reason)
				case res.Activity != nil:
					fmt.Fprintf(out, "Applied: deal %s moved (activity %s)\n", res.Deal.ID, res.Activity.ID)
				default:
					fmt.Fprintf(out, "Applied: created deal %s (%s)\n", res.Deal.ID, res.Deal.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&t.DealID, "deal", "", "deal id (quote_sent, invoice_paid)")
	cmd.Flags().StringVar(&t.Title, "title", "", "deal title (booking_created)")
	cmd.Flags().StringVar(&customer, "customer", "", "customer id (booking_created)")
	cmd.Flags().StringVar(&value, "value", "", "deal value (booking_created)")
	return cmd
}
