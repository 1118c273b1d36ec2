package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewAttemptsCmd constructs the `studyai attempts` command, which lists the
// scored attempts at one quiz.
func NewAttemptsCmd() *cobra.Command {
	var (
		quizID string
		owner  string
	)

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List the scored attempts at a quiz",
		Long: `Print every attempt the learner has submitted for a quiz, oldest first.

Examples:
  studyai attempts --quiz 91ab...`,
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			if quizID == "" {
				return errors.New("attempts: --quiz is required")
			}
			ctx, log := commandContext(cmd)

			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("attempts: %w", err)
			}
			defer func() { _ = st.Close() }()

			attempts, err := st.svc.QuizAttempts(ctx, owner, quizID)
			if err != nil {
				return fmt.Errorf("attempts: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), attempts)
		}),
	}

	cmd.Flags().StringVar(&quizID, "quiz", "", "Id of the quiz")
	cmd.Flags().StringVar(&owner, "owner", defaultOwner, "Learner id that owns the quiz")

	return cmd
}
