package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Close stale leads as lost",
		Long: `Moves deals that have sat in lead or contacted longer than the tenant's
stale_lead_days to lost. With --all, sweeps every tenant that has a
threshold configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				rt, err := a.open(cmd.ErrOrStderr(), openOpts{})
				if err != nil {
					return err
				}
				defer rt.Close()
				n, err := rt.svc.SweepAll(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "Closed %d stale deals\n", n)
				return err
			}
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				n, err := rt.svc.SweepStaleDeals(cmd.Context(), tenant)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Closed %d stale deals\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "sweep every tenant")
	return cmd
}
