package main

import (
	"github.com/spf13/cobra"

	"github.com/cadre-io/cadre/internal/pattern"
)

func newMotionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "motion",
		Short: "Parliamentary motions for the roberts pattern",
	}

	var (
		motionType  string
		description string
	)
	submitCmd := &cobra.Command{
		Use:   "submit <proposer>",
		Short: "Submit a motion, queued if the floor is taken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.roberts().SubmitMotion(cmd.Context(), pattern.MotionType(motionType), args[0], description)
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}
	submitCmd.Flags().StringVar(&motionType, "type", string(pattern.MotionMain), "main, subsidiary, privileged or incidental")
	submitCmd.Flags().StringVar(&description, "description", "", "what the motion proposes")

	secondCmd := &cobra.Command{
		Use:   "second <motion-id> <seconder>",
		Short: "Second a submitted motion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.roberts().SecondMotion(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}

	debateCmd := &cobra.Command{
		Use:   "debate <motion-id>",
		Short: "Open debate on a seconded motion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.roberts().OpenDebate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}

	callVoteCmd := &cobra.Command{
		Use:   "call-vote <motion-id>",
		Short: "Open voting, enforcing the second and quorum rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.roberts().CallVote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}

	voteCmd := &cobra.Command{
		Use:   "vote <motion-id> <member> <aye|nay|abstain|present>",
		Short: "Cast a vote on the motion under vote",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.roberts().CastVote(cmd.Context(), args[0], args[1], pattern.VoteChoice(args[2]))
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}

	tallyCmd := &cobra.Command{
		Use:   "tally <motion-id>",
		Short: "Close voting and decide the motion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			m, err := a.roberts().Tally(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current parliamentary session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			s, err := a.roberts().Session(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}

	cmd.AddCommand(submitCmd, secondCmd, debateCmd, callVoteCmd, voteCmd, tallyCmd, showCmd)
	return cmd
}
