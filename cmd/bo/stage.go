package main

import (
	"fmt"
	"io"

	"github.com/fixaren/backoffice/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Pipeline stage commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the tenant's stages in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				stages, err := rt.svc.ListStages(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				return a.printStages(cmd.OutOrStdout(), stages)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Seed the default stages if the tenant has none",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				stages, err := rt.svc.EnsureDefaultStages(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				return a.printStages(cmd.OutOrStdout(), stages)
			})
		},
	})
	return cmd
}

func (a *app) printStages(out io.Writer, stages []models.Stage) error {
	if a.wantJSON(out) {
		return printJSON(out, stages)
	}
	if len(stages) == 0 {
		fmt.Fprintln(out, "No stages. Run 'bo stage ensure' to seed the defaults.")
		return nil
	}
	tw := newTable(out, table.Row{"Order", "Slug", "Name", "Color"})
	for _, s := range stages {
		tw.AppendRow(table.Row{s.SortOrder, s.Slug, s.Name, s.Color})
	}
	tw.Render()
	return nil
}

// withTenant opens the runtime, resolves the tenant and runs fn.
func (a *app) withTenant(cmd *cobra.Command, fn func(rt *runtime, tenant string) error) error {
	tenant, err := a.tenant()
	if err != nil {
		return err
	}
	rt, err := a.open(cmd.ErrOrStderr(), openOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt, tenant)
}
