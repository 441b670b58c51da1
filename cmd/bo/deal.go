package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fixaren/backoffice/internal/models"
	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newDealCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Deal commands",
	}
	cmd.AddCommand(newDealCreateCmd(a))
	cmd.AddCommand(newDealListCmd(a))
	cmd.AddCommand(newDealShowCmd(a))
	cmd.AddCommand(newDealMoveCmd(a))
	cmd.AddCommand(newDealUpdateCmd(a))
	return cmd
}

func parseValue(raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid value %q: %w", raw, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func newDealCreateCmd(a *app) *cobra.Command {
	var (
		in       pipeline.CreateDealInput
		customer string
		value    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a deal in its initial stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseValue(value)
			if err != nil {
				return err
			}
			in.Value = v
			if customer != "" {
				in.CustomerID = &customer
			}
			in.ActorID = a.user()
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				deal, err := rt.svc.CreateDeal(cmd.Context(), tenant, in)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, deal)
				}
				fmt.Fprintf(out, "Created deal %s (%s)\n", deal.ID, deal.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "deal title (required)")
	cmd.Flags().StringVar(&in.StageSlug, "stage", "", "initial stage slug (default: first stage)")
	cmd.Flags().StringVar(&customer, "customer", "", "customer id")
	cmd.Flags().StringVar(&value, "value", "", "deal value, e.g. 1500.00")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Priority, "priority", "", "low, medium or high (default medium)")
	cmd.Flags().StringVar(&in.Assignee, "assignee", "", "assignee")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newDealListCmd(a *app) *cobra.Command {
	var f pipeline.DealFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deals, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				deals, err := rt.svc.ListDeals(cmd.Context(), tenant, f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, deals)
				}
				if len(deals) == 0 {
					fmt.Fprintln(out, "No deals found.")
					return nil
				}
				names, err := stageNames(cmd.Context(), rt, tenant)
				if err != nil {
					return err
				}
				tw := newTable(out, table.Row{"ID", "Title", "Stage", "Value", "Priority", "Assignee", "Updated"})
				for _, d := range deals {
					tw.AppendRow(table.Row{d.ID, d.Title, names[d.StageID], formatValue(d.Value), d.Priority, orDash(d.Assignee), d.UpdatedAt.Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.StageSlug, "stage", "", "stage slug filter")
	cmd.Flags().StringVar(&f.CustomerID, "customer", "", "customer id filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "page size (default 20, max 100)")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

// stageNames maps stage ids to slugs for display.
func stageNames(ctx context.Context, rt *runtime, tenant string) (map[string]string, error) {
	stages, err := rt.svc.ListStages(ctx, tenant)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(stages))
	for _, s := range stages {
		names[s.ID] = s.Slug
	}
	return names, nil
}

func newDealShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <deal-id>",
		Short: "Show a deal and its activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				ctx := cmd.Context()
				deal, err := rt.svc.GetDeal(ctx, tenant, args[0])
				if err != nil {
					return err
				}
				entries, err := rt.svc.ListActivityForDeal(ctx, tenant, deal.ID, pipeline.MaxPageSize)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, map[string]any{"deal": deal, "activity": entries})
				}
				names, err := stageNames(ctx, rt, tenant)
				if err != nil {
					return err
				}
				printDeal(out, deal, names)
				fmt.Fprintln(out)
				printActivity(out, entries)
				return nil
			})
		},
	}
}

func printDeal(out io.Writer, d *models.Deal, stageNames map[string]string) {
	customer := "-"
	if d.CustomerID != nil {
		customer = *d.CustomerID
	}
	fmt.Fprintf(out, "Deal:        %s\n", d.ID)
	fmt.Fprintf(out, "Title:       %s\n", d.Title)
	fmt.Fprintf(out, "Stage:       %s\n", stageNames[d.StageID])
	fmt.Fprintf(out, "Value:       %s\n", formatValue(d.Value))
	fmt.Fprintf(out, "Customer:    %s\n", customer)
	fmt.Fprintf(out, "Priority:    %s\n", d.Priority)
	fmt.Fprintf(out, "Origin:      %s\n", d.Origin)
	fmt.Fprintf(out, "Assignee:    %s\n", orDash(d.Assignee))
	fmt.Fprintf(out, "Version:     %d\n", d.Version)
	if d.StageEnteredAt != nil {
		fmt.Fprintf(out, "In stage:    since %s\n", d.StageEnteredAt.Format(time.RFC3339))
	}
	if d.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", d.Description)
	}
}

func newDealMoveCmd(a *app) *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   "move <deal-id> <stage-slug>",
		Short: "Move a deal to another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				res, err := rt.svc.MoveDeal(cmd.Context(), tenant, args[0], args[1], pipeline.MoveOpts{
					TriggeredBy:     pipeline.TriggeredByUser,
					ActorID:         a.user(),
					ExpectedVersion: expected,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, res)
				}
				if !res.Moved() {
					fmt.Fprintf(out, "Deal %s is already in %s\n", res.Deal.ID, args[1])
					return nil
				}
				fmt.Fprintf(out, "Moved deal %s to %s (activity %s)\n", res.Deal.ID, args[1], res.Activity.ID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the deal is still at this version")
	return cmd
}

func newDealUpdateCmd(a *app) *cobra.Command {
	var (
		title, value, description, priority, assignee, customer string
		clearValue                                              bool
	)
	cmd := &cobra.Command{
		Use:   "update <deal-id>",
		Short: "Edit a deal's details without changing its stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p pipeline.DealPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				p.Title = &title
			}
			if flags.Changed("value") {
				v, err := decimal.NewFromString(value)
				if err != nil {
					return fmt.Errorf("invalid value %q: %w", value, err)
				}
				p.Value = &v
			}
			p.ClearValue = clearValue
			if flags.Changed("description") {
				p.Description = &description
			}
			if flags.Changed("priority") {
				p.Priority = &priority
			}
			if flags.Changed("assignee") {
				p.Assignee = &assignee
			}
			if flags.Changed("customer") {
				p.CustomerID = &customer
			}
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				deal, err := rt.svc.UpdateDealDetails(cmd.Context(), tenant, args[0], p)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, deal)
				}
				fmt.Fprintf(out, "Updated deal %s\n", deal.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&value, "value", "", "new value")
	cmd.Flags().BoolVar(&clearValue, "clear-value", false, "remove the deal's value")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee")
	cmd.Flags().StringVar(&customer, "customer", "", "customer id (empty clears)")
	return cmd
}
