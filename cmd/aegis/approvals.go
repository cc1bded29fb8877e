package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-dev/aegis/internal/approval"
)

func buildApprovalsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect and manage the approval allow-list and audit trail",
	}
	cmd.AddCommand(
		buildAllowListCmd(configPath),
		buildAllowCmd(configPath),
		buildRevokeCmd(configPath),
		buildAuditCmd(configPath),
	)
	return cmd
}

func openApprovalStore(configPath string) (*approval.SQLiteStore, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return approval.NewSQLiteStore(cfg.Storage.ApprovalDB)
}

func buildAllowListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show stored allow-list patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openApprovalStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("allow-list is empty")
				return nil
			}
			for _, entry := range entries {
				fmt.Printf("%-40s %s\n", entry.Pattern, entry.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func buildAllowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "allow <pattern>",
		Short: "Add an allow-list pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := args[0]
			if approval.IsDangerousPattern(pattern) {
				return fmt.Errorf("pattern %q has a dangerous command head and cannot be allow-listed", pattern)
			}
			store, err := openApprovalStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Add(cmd.Context(), approval.Entry{Pattern: pattern})
		},
	}
}

func buildRevokeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <pattern>",
		Short: "Remove an allow-list pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openApprovalStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Remove(cmd.Context(), args[0])
		},
	}
}

func buildAuditCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent approval decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openApprovalStore(*configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.AuditEntries(context.Background(), limit)
			if err != nil {
				return err
			}
			for _, req := range entries {
				fmt.Printf("%s  %-10s %-12s %s\n",
					req.CreatedAt.Format(time.RFC3339), req.ToolName, string(req.Status), req.ArgsSummary)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show")
	return cmd
}
