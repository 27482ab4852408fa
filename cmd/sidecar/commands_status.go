package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidecar/internal/doctor"
)

// buildStatusCmd reports a one-screen summary of run health: how many runs
// are in each state, whether any chains are broken, and how many need an
// operator's attention right now.
func buildStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report run and chain health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := doctor.ProbeRuns(cmd.Context(), store)
			if err != nil {
				return fmt.Errorf("probe runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			status := doctor.SummarizeApprovals(runs)
			fmt.Println(doctor.FormatApprovalStatus(status))
			fmt.Println()
			for _, r := range runs {
				marker := "ok"
				if r.Unhealthy() {
					marker = "ATTENTION"
				}
				fmt.Printf("%-8s run=%-20s state=%-18s events=%-4d chain_ok=%v forced_pause=%v\n",
					marker, r.RunID, r.State, r.EventCount, r.ChainOK, r.ForcedPause)
				if r.Error != "" {
					fmt.Printf("         error: %s\n", r.Error)
				}
			}
			return nil
		},
	}
	return cmd
}
