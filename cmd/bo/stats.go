package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-stage counts, values and conversion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				stats, err := rt.svc.GetPipelineStats(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, stats)
				}
				tw := newTable(out, table.Row{"Stage", "Deals", "Value"})
				for _, s := range stats.Stages {
					tw.AppendRow(table.Row{s.Name, s.Count, s.Value.StringFixed(2)})
				}
				tw.AppendFooter(table.Row{"Total", stats.TotalCount, stats.TotalValue.StringFixed(2)})
				tw.Render()
				fmt.Fprintf(out, "Open %d (%s)  Won %d (%s)  Lost %d (%s)\n",
					stats.OpenCount, stats.OpenValue.StringFixed(2),
					stats.WonCount, stats.WonValue.StringFixed(2),
					stats.LostCount, stats.LostValue.StringFixed(2))
				fmt.Fprintf(out, "Win rate %.1f%%  Conversion %.1f%%\n", stats.WinRate*100, stats.ConversionRate*100)
				return nil
			})
		},
	}
}
