package main

import (
	"github.com/spf13/cobra"

	"github.com/cadre-io/cadre/internal/pattern"
)

func newCoordinateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coordinate <pattern> [agent-id ...]",
		Short: "Run one coordination round",
		Long: "Run one round of the named coordination pattern (atomic, realtime, " +
			"scrum or roberts). Participants default to every registered agent " +
			"that is not offline.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := pattern.ParseKind(args[0])
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			participants, err := a.participants(cmd, args[1:])
			if err != nil {
				return err
			}
			result, err := a.engine(kind).Coordinate(cmd.Context(), participants)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	return cmd
}
