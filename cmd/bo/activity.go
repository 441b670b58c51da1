package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newActivityCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Activity ledger commands",
	}
	cmd.AddCommand(newActivityListCmd(a))
	cmd.AddCommand(newActivityUndoCmd(a))
	return cmd
}

func newActivityListCmd(a *app) *cobra.Command {
	var (
		f     pipeline.ActivityFilter
		since string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: want RFC 3339", since)
				}
				f.Since = t.UTC()
			}
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				entries, err := rt.svc.ListActivity(cmd.Context(), tenant, f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, entries)
				}
				printActivity(out, entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TriggeredBy, "triggered-by", "", "user, system or automation")
	cmd.Flags().StringVar(&f.DealID, "deal", "", "deal id filter")
	cmd.Flags().StringVar(&since, "since", "", "only entries at or after this RFC 3339 time")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "page size (default 20, max 100)")
	return cmd
}

func printActivity(out io.Writer, entries []pipeline.ActivityView) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No activity.")
		return
	}
	tw := newTable(out, table.Row{"ID", "Deal", "Seq", "Type", "From", "To", "By", "At", "Undone"})
	for _, e := range entries {
		from, to := "-", "-"
		if e.FromStage != nil {
			from = e.FromStage.Slug
		}
		if e.ToStage != nil {
			to = e.ToStage.Slug
		}
		undone := ""
		if e.Undone {
			undone = "yes"
		}
		by := e.TriggeredBy
		if e.ActorID != "" {
			by += ":" + e.ActorID
		}
		tw.AppendRow(table.Row{e.ID, e.DealID, e.Sequence, e.Type, from, to, by, e.CreatedAt.Format(time.DateTime), undone})
	}
	tw.Render()
}

func newActivityUndoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <activity-id>",
		Short: "Undo the stage change recorded by a ledger entry",
		Long: `Moves the deal back to the entry's from-stage, flags the entry as undone and
appends a stage_moved entry recording the reversal. Only a deal's latest
entry can be undone, and deal creation cannot be undone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTenant(cmd, func(rt *runtime, tenant string) error {
				res, err := rt.svc.UndoActivity(cmd.Context(), tenant, args[0], a.user())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.wantJSON(out) {
					return printJSON(out, res)
				}
				fmt.Fprintf(out, "Undid %s; deal %s is now at version %d (activity %s)\n",
					res.Undone.ID, res.Deal.ID, res.Deal.Version, res.Activity.ID)
				return nil
			})
		},
	}
}
