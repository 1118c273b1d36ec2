package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/54b3r/studyai-go/internal/analysis"
)

// NewSubmitCmd constructs the `studyai submit` command, which scores a set
// of answers against a stored quiz.
func NewSubmitCmd() *cobra.Command {
	var (
		quizID  string
		owner   string
		answers map[string]string
		seconds int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit answers to a quiz and print the scored attempt",
		Long: `Score answers against a stored quiz. Answers are question-id=answer
pairs; unanswered questions count as incorrect.

Examples:
  studyai submit --quiz 91ab... --answer 1=Energy --answer 2=True
  studyai submit --quiz 91ab... --answer "3=the cell membrane" --time 240`,
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			if quizID == "" {
				return errors.New("submit: --quiz is required")
			}
			sub, err := parseAnswers(answers)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			sub.OwnerID = owner
			sub.TimeTakenSeconds = seconds

			ctx, log := commandContext(cmd)
			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			defer func() { _ = st.Close() }()

			a, err := st.svc.SubmitAttempt(ctx, owner, quizID, sub)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), a)
		}),
	}

	cmd.Flags().StringVar(&quizID, "quiz", "", "Id of the quiz being answered")
	cmd.Flags().StringVar(&owner, "owner", defaultOwner, "Learner id submitting the attempt")
	cmd.Flags().StringToStringVarP(&answers, "answer", "a", nil, "Answer as question-id=answer (repeatable)")
	cmd.Flags().IntVar(&seconds, "time", 0, "Seconds taken to answer")

	return cmd
}

// parseAnswers converts question-id=answer flag pairs into a submission.
func parseAnswers(raw map[string]string) (analysis.Submission, error) {
	sub := analysis.Submission{Answers: make(map[int]string, len(raw))}
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return analysis.Submission{}, fmt.Errorf("question id %q is not a number", k)
		}
		sub.Answers[id] = v
	}
	return sub, nil
}
