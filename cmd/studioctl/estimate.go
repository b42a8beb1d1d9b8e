package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Price a request against the session's credit balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := requestsFromFlags()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		total := 0
		for _, req := range reqs {
			a := gate.Check(cmd.Context(), req, credits(sessionID))
			total += a.Cost
			verdict := "ok"
			if !a.Allowed {
				verdict = fmt.Sprintf("short %d", a.Shortfall)
			}
			fmt.Fprintf(out, "%-8s %-30q cost %4d  balance %4d  %s\n", req.ProviderKind, req.Title, a.Cost, a.Balance, verdict)
		}
		if len(reqs) > 1 {
			fmt.Fprintf(out, "total cost %d\n", total)
		}
		return nil
	},
}

func init() {
	addRequestFlags(estimateCmd)
	rootCmd.AddCommand(estimateCmd)
}
