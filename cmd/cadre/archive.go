package main

import (
	"github.com/spf13/cobra"

	"github.com/cadre-io/cadre/internal/domain/work"
	"github.com/cadre-io/cadre/internal/sqlite"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect and populate the SQLite archive",
	}

	compactCmd := &cobra.Command{
		Use:   "compact",
		Short: "Move terminal work items out of the coordination directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			db, archive, err := a.openArchive()
			if err != nil {
				return err
			}
			defer db.Close()
			n, err := a.work.Compact(cmd.Context(), archive.ArchiveWork)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"archived": n})
		},
	}

	var (
		status    string
		claimedBy string
		limit     int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived work items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			db, archive, err := a.openArchive()
			if err != nil {
				return err
			}
			defer db.Close()
			items, err := archive.ListArchived(cmd.Context(), sqlite.ListArchivedOptions{
				Status:    work.Status(status),
				ClaimedBy: claimedBy,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "filter by terminal status")
	listCmd.Flags().StringVar(&claimedBy, "claimed-by", "", "filter by claiming agent")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	activityCmd := &cobra.Command{
		Use:   "activity",
		Short: "List recent coordination activity entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			db, archive, err := a.openArchive()
			if err != nil {
				return err
			}
			defer db.Close()
			entries, err := archive.ListActivity(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	activityCmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	cmd.AddCommand(compactCmd, listCmd, activityCmd)
	return cmd
}
