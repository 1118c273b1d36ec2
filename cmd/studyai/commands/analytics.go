package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAnalyticsCmd constructs the `studyai analytics` command, which prints a
// learner's score history summary and quiz overview.
func NewAnalyticsCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show score trends and weak topics for a learner",
		Long: `Print the learner's attempt count, average, best and latest scores,
score trend, most frequent weak topics, and per-quiz progress.

Examples:
  studyai analytics --owner alice`,
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			ctx, log := commandContext(cmd)

			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("analytics: %w", err)
			}
			defer func() { _ = st.Close() }()

			snap, err := st.svc.Analytics(ctx, owner)
			if err != nil {
				return fmt.Errorf("analytics: %w", err)
			}
			summary, err := st.svc.QuizSummary(ctx, owner)
			if err != nil {
				return fmt.Errorf("analytics: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Analytics any `json:"analytics"`
				Quizzes   any `json:"quizzes"`
			}{snap, summary})
		}),
	}

	cmd.Flags().StringVar(&owner, "owner", defaultOwner, "Learner id")

	return cmd
}
