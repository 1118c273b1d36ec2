package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/studyai-go/internal/quiz"
)

// NewQuizCmd constructs the `studyai quiz` command, which generates a quiz
// from an ingested document and prints it with its answer key.
func NewQuizCmd() *cobra.Command {
	var (
		documentID string
		owner      string
		req        quiz.Request
	)

	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Generate a quiz from an ingested document",
		Long: `Generate a quiz from a completed document. The quiz is stored and
printed as JSON, answer key included. Submit answers with 'studyai submit'.

Examples:
  studyai quiz --document 6f1c...
  studyai quiz --document 6f1c... --count 5 --min-difficulty 2 --max-difficulty 4`,
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			if documentID == "" {
				return errors.New("quiz: --document is required")
			}
			ctx, log := commandContext(cmd)

			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("quiz: %w", err)
			}
			defer func() { _ = st.Close() }()

			q, err := st.svc.GenerateQuiz(ctx, owner, documentID, req)
			if err != nil {
				return fmt.Errorf("quiz: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), q)
		}),
	}

	cmd.Flags().StringVar(&documentID, "document", "", "Id of the document to quiz on")
	cmd.Flags().StringVar(&owner, "owner", defaultOwner, "Learner id that owns the document")
	cmd.Flags().IntVarP(&req.NumQuestions, "count", "n", 0, "Number of questions (default 5)")
	cmd.Flags().IntVar(&req.MinDifficulty, "min-difficulty", 0, "Lowest difficulty, 1 to 5")
	cmd.Flags().IntVar(&req.MaxDifficulty, "max-difficulty", 0, "Highest difficulty, 1 to 5")

	return cmd
}
