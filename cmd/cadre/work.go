package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cadre-io/cadre/internal/domain/work"
)

func newWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Manage the work queue",
	}

	var (
		workType string
		priority float64
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Add a pending work item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			item, err := a.work.Create(cmd.Context(), work.CreateRequest{
				Type:     workType,
				Priority: priority,
			})
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}
	createCmd.Flags().StringVar(&workType, "type", "generic", "work type")
	createCmd.Flags().Float64Var(&priority, "priority", 0.5, "scheduling priority, higher first")

	claimCmd := &cobra.Command{
		Use:   "claim <work-id> <agent-id>",
		Short: "Claim a specific pending item for an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			item, err := a.work.Claim(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}

	claimNextCmd := &cobra.Command{
		Use:   "claim-next <agent-id>",
		Short: "Claim the best matching pending item for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			item, err := a.work.ClaimNext(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}

	progressCmd := &cobra.Command{
		Use:   "progress <work-id> <agent-id> <percent>",
		Short: "Report progress on a claimed item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid percent %q: %w", args[2], err)
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			item, err := a.work.Progress(cmd.Context(), args[0], args[1], pct)
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}

	var result string
	completeCmd := &cobra.Command{
		Use:   "complete <work-id> <agent-id>",
		Short: "Complete a claimed item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			item, err := a.work.Complete(cmd.Context(), args[0], args[1], result)
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}
	completeCmd.Flags().StringVar(&result, "result", "", "completion result")

	var reason string
	failCmd := &cobra.Command{
		Use:   "fail <work-id> <agent-id>",
		Short: "Fail a claimed item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			item, err := a.work.Fail(cmd.Context(), args[0], args[1], reason)
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}
	failCmd.Flags().StringVar(&reason, "reason", "", "failure reason")

	cancelCmd := &cobra.Command{
		Use:   "cancel <work-id> <agent-id>",
		Short: "Cancel a claimed item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			item, err := a.work.Cancel(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(item)
		},
	}

	var state string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List work items by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			var items []*work.Item
			switch state {
			case "pending":
				items, err = a.work.ListPending(cmd.Context())
			case "claimed":
				items, err = a.work.ListClaimed(cmd.Context())
			case "terminal":
				items, err = a.work.ListTerminal(cmd.Context())
			default:
				return fmt.Errorf("unknown state %q (want pending, claimed or terminal)", state)
			}
			if err != nil {
				return err
			}
			return printJSON(items)
		},
	}
	listCmd.Flags().StringVar(&state, "state", "pending", "pending, claimed or terminal")

	cmd.AddCommand(createCmd, claimCmd, claimNextCmd, progressCmd, completeCmd, failCmd, cancelCmd, listCmd)
	return cmd
}
