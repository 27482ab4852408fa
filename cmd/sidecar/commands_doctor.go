package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidecar/internal/captoken"
	"github.com/haasonsaas/sidecar/internal/doctor"
)

// buildDoctorCmd reports Event Store chain health, capability keyring
// state, policy config sanity, and pending approvals in one pass, and can
// apply a handful of safe bootstrap repairs.
func buildDoctorCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose event-store, keyring, and policy health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if repair {
				if path, created, err := doctor.RepairPolicyMatrix(cfg); err != nil {
					fmt.Printf("policy matrix repair failed: %v\n", err)
				} else if created {
					fmt.Printf("wrote default policy matrix to %s\n", path)
				}
				if dir, created, err := doctor.RepairEventStoreDir(cfg); err != nil {
					fmt.Printf("event store dir repair failed: %v\n", err)
				} else if created {
					fmt.Printf("created event store directory %s\n", dir)
				}
			}

			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open event store: %w", err)
			}
			defer store.Close()

			runs, err := doctor.ProbeRuns(cmd.Context(), store)
			if err != nil {
				return fmt.Errorf("probe runs: %w", err)
			}
			fmt.Println("== runs ==")
			fmt.Println(doctor.FormatApprovalStatus(doctor.SummarizeApprovals(runs)))
			broken := 0
			for _, r := range runs {
				if !r.ChainOK {
					broken++
				}
			}
			fmt.Printf("%d run(s), %d chain break(s)\n\n", len(runs), broken)

			tokens, err := captoken.NewService()
			if err != nil {
				fmt.Printf("keyring: init failed: %v\n", err)
			} else {
				kh := doctor.ProbeKeyring(tokens)
				fmt.Println("== keyring ==")
				if kh.Unhealthy() {
					fmt.Println("ATTENTION: no active signing key; every Mint will fail")
				} else {
					fmt.Printf("active key: %s\n", kh.ActiveKeyID)
				}
				fmt.Println()
			}

			if _, err := buildGate(cfg); err != nil {
				fmt.Printf("== policy gate ==\nfailed to construct: %v\n\n", err)
			}
			matrix := policyMatrixFor(cfg)
			if issues := doctor.CheckPolicyConfig(cfg, matrix); len(issues) > 0 {
				fmt.Println("== policy config ==")
				for _, issue := range issues {
					fmt.Println("- " + issue)
				}
				fmt.Println()
			}

			sec := doctor.AuditSecurity(cfg, configPath)
			if len(sec.Findings) > 0 {
				fmt.Println("== security ==")
				for _, f := range sec.Findings {
					fmt.Printf("[%s] %s\n", f.Severity, f.Message)
				}
				fmt.Println()
			}

			svc := doctor.AuditServices(cfg)
			fmt.Println("== service ==")
			for _, p := range svc.Ports {
				status := "free"
				if p.InUse {
					status = "IN USE"
				}
				fmt.Printf("port %d: %s\n", p.Port, status)
			}

			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "apply safe bootstrap repairs before diagnosing")
	return cmd
}
