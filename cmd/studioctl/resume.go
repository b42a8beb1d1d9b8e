package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/makeasinger/studio/internal/model"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Pick up a persisted generation and follow it to the end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o, err := generator.Session(sessionID)
		if err != nil {
			return err
		}
		st := o.State()
		fmt.Fprintf(cmd.OutOrStdout(), "session %q: %s\n", sessionID, st.Status)
		return followUntilDone(ctx, cmd)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resubmit a halted queue or its retryable failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if _, err := generator.Retry(ctx, sessionID); err != nil {
			var denied *model.AdmissionDeniedError
			switch {
			case errors.As(err, &denied):
				return fmt.Errorf("still short of %d credit(s)", denied.Shortfall)
			case errors.Is(err, model.ErrNothingToRetry):
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to retry")
				return nil
			}
			return err
		}
		return followUntilDone(ctx, cmd)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop following the current job and drop the rest of the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := generator.Cancel(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %q: %s\n", sessionID, res.State.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(cancelCmd)
}
