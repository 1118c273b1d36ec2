package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewNotesCmd constructs the `studyai notes` command, which writes study
// notes for the weak topics of an attempt or lists the notes written so far.
func NewNotesCmd() *cobra.Command {
	var (
		attemptID  string
		owner      string
		list       bool
		documentID string
	)

	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Generate study notes for a scored attempt",
		Long: `Generate study notes targeted at the weak topics of an attempt,
grounded in passages retrieved from the quizzed document. Running the
command again for the same attempt prints the notes stored the first time.
With --list, print the learner's notes instead, optionally for one document.

Examples:
  studyai notes --attempt 3c2d...
  studyai notes --list --document 7f1e...`,
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			switch {
			case list && attemptID != "":
				return errors.New("notes: use either --attempt or --list")
			case !list && documentID != "":
				return errors.New("notes: --document requires --list")
			case !list && attemptID == "":
				return errors.New("notes: --attempt is required")
			}
			ctx, log := commandContext(cmd)

			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("notes: %w", err)
			}
			defer func() { _ = st.Close() }()

			if list {
				ns, err := st.svc.NotesList(ctx, owner, documentID)
				if err != nil {
					return fmt.Errorf("notes: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), ns)
			}
			n, err := st.svc.GenerateNotes(ctx, owner, attemptID)
			if err != nil {
				return fmt.Errorf("notes: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), n)
		}),
	}

	cmd.Flags().StringVar(&attemptID, "attempt", "", "Id of the scored attempt")
	cmd.Flags().StringVar(&owner, "owner", defaultOwner, "Learner id that owns the attempt")
	cmd.Flags().BoolVar(&list, "list", false, "List stored notes instead of generating")
	cmd.Flags().StringVar(&documentID, "document", "", "With --list, only notes on this document")

	return cmd
}
