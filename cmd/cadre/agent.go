package main

import (
	"github.com/spf13/cobra"

	"github.com/cadre-io/cadre/internal/domain/agent"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage the agent registry",
	}

	var (
		role            string
		capacity        float64
		specializations []string
		workCapacity    int
	)
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new agent and print its record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			req := agent.RegisterRequest{
				Role:            role,
				Capacity:        capacity,
				Specializations: specializations,
			}
			if cmd.Flags().Changed("work-capacity") {
				req.WorkCapacity = &workCapacity
			}
			registered, err := a.agents.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(registered)
		},
	}
	registerCmd.Flags().StringVar(&role, "role", "worker", "agent role")
	registerCmd.Flags().Float64Var(&capacity, "capacity", 1.0, "capacity weight between 0 and 1")
	registerCmd.Flags().StringSliceVar(&specializations, "specialization", nil, "work types the agent accepts (empty accepts all)")
	registerCmd.Flags().IntVar(&workCapacity, "work-capacity", 0, "maximum concurrently held work items")

	heartbeatCmd := &cobra.Command{
		Use:   "heartbeat <agent-id>",
		Short: "Refresh an agent's liveness timestamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.agents.Heartbeat(cmd.Context(), args[0])
		},
	}

	var status string
	statusCmd := &cobra.Command{
		Use:   "status <agent-id>",
		Short: "Set an agent's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.agents.SetStatus(cmd.Context(), args[0], agent.Status(status))
		},
	}
	statusCmd.Flags().StringVar(&status, "set", string(agent.StatusActive), "status to set")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			agents, err := a.agents.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(agents)
		},
	}

	deregisterCmd := &cobra.Command{
		Use:   "deregister <agent-id>",
		Short: "Remove an agent from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return a.agents.Deregister(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(registerCmd, heartbeatCmd, statusCmd, listCmd, deregisterCmd)
	return cmd
}
