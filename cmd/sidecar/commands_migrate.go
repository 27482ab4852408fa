package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/sidecar/internal/doctor"
)

// buildMigrateCmd groups config-file and event-store schema migration.
// Unlike the teacher's SQL-migration-runner `nexus migrate`, the sqlite
// event store's schema is self-migrating on open (eventstore.OpenSQLite
// runs its CREATE TABLE IF NOT EXISTS set unconditionally); what needs an
// explicit operator step here is rewriting a config file written against
// an older, flatter key layout (internal/doctor/migrations.go).
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending config and event-store migrations",
	}
	cmd.AddCommand(buildMigrateConfigCmd(), buildMigrateStoreCmd())
	return cmd
}

func buildMigrateConfigCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Rewrite legacy flat config keys into their current nested form",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			raw, err := doctor.LoadRawConfig(configPath)
			if err != nil {
				return err
			}
			report := doctor.ApplyConfigMigrations(raw)
			if len(report.Applied) == 0 {
				fmt.Println("config already current; nothing to migrate")
				return nil
			}
			for _, line := range report.Applied {
				fmt.Println(line)
			}
			if !write {
				fmt.Println("\n(dry run; pass --write to persist)")
				return nil
			}
			if _, err := doctor.BackupConfig(configPath); err != nil {
				return fmt.Errorf("backup config before write: %w", err)
			}
			return doctor.WriteRawConfig(configPath, raw)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "persist the migrated config (a timestamped backup is made first)")
	return cmd
}

func buildMigrateStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Ensure the event store's on-disk schema is current",
		Long: `The sqlite event store backend creates its runs/events/chat_events/meta
tables on open if they don't already exist, so this command is mostly a
connectivity check: it opens the configured DSN, which creates any missing
tables, and reports success. It does not read or print the schema_version
recorded in the meta table.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open/migrate event store: %w", err)
			}
			defer store.Close()
			fmt.Println("event store schema is current")
			return nil
		},
	}
	return cmd
}
