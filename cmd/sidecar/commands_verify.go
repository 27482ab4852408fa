package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildVerifyCmd wraps eventstore.Store.Verify: walk a run's hash chain
// (or every run known to the store) and report the first break, if any.
func buildVerifyCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify run event-chain integrity",
		Long: `Recomputes the hash chain for one run (--run) or every run known to the
event store, reporting the first event whose hash does not match what the
chain commits to. A clean run prints OK; a broken one exits non-zero.`,
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

			runIDs := []string{runID}
			if runID == "" {
				runIDs, err = store.Runs(cmd.Context())
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
			}
			if len(runIDs) == 0 {
				fmt.Println("no runs to verify")
				return nil
			}

			anyBroken := false
			for _, id := range runIDs {
				ok, breakAt, err := store.Verify(cmd.Context(), id)
				if err != nil {
					fmt.Printf("%-20s ERROR: %v\n", id, err)
					anyBroken = true
					continue
				}
				if ok {
					fmt.Printf("%-20s OK\n", id)
					continue
				}
				fmt.Printf("%-20s BROKEN at event %d\n", id, breakAt)
				anyBroken = true
			}
			if anyBroken {
				return fmt.Errorf("chain verification found one or more broken runs")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "verify only this run id (default: every run)")
	return cmd
}
