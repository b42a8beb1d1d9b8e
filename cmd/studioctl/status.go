package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/makeasinger/studio/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state of a session without resuming it",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := snapshots.Load(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if snap == nil {
			fmt.Fprintf(out, "session %q: nothing in progress\n", sessionID)
			return nil
		}

		fmt.Fprintf(out, "session %q: %s, request %d of %d\n", sessionID, snap.Status, snap.Cursor+1, len(snap.Queue))
		if snap.CurrentJobHandle != nil {
			fmt.Fprintf(out, "task %s submitted %s ago\n", snap.CurrentJobHandle.TaskID,
				time.Since(time.UnixMilli(snap.SubmittedAtEpochMs)).Round(time.Second))
		}
		if snap.NextSubmitAtEpochMs != 0 {
			fmt.Fprintf(out, "next submission at %s\n", time.UnixMilli(snap.NextSubmitAtEpochMs).Format(time.Kitchen))
		}
		if snap.Halted {
			fmt.Fprintln(out, "halted on credits")
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tKIND\tTITLE\tSTATE")
		for i, req := range snap.Queue {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, req.ProviderKind, req.Title, itemState(snap, i, req))
		}
		return w.Flush()
	},
}

func itemState(snap *model.PersistedSnapshot, i int, req model.GenerationRequest) string {
	for _, r := range snap.Results {
		if r.RequestID == req.ID {
			return "done"
		}
	}
	switch {
	case i < snap.Cursor:
		return "skipped"
	case i == snap.Cursor:
		return string(snap.Status)
	default:
		return "waiting"
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with persisted generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := snapshots.IDs(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no sessions in progress")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}
