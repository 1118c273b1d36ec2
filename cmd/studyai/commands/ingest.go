package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/studyai-go/internal/ingestion"
)

// NewIngestCmd constructs the `studyai ingest` command, which chunks,
// embeds, and indexes one document.
func NewIngestCmd() *cobra.Command {
	var (
		file       string
		url        string
		documentID string
		owner      string
		title      string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a study document from a file or URL",
		Long: `Chunk, embed, and index a study document so quizzes and notes can be
generated from it. Exactly one of --file and --url is required. Re-ingesting
an existing --document replaces its chunks.

URLs must serve plain text or markdown; HTML pages are rejected.

Examples:
  studyai ingest --file notes/photosynthesis.md --title "Photosynthesis"
  studyai ingest --url https://example.edu/cells.txt --owner alice
  studyai ingest --file biology.txt --document 6f1c... --owner alice`,
		RunE: audited(func(cmd *cobra.Command, args []string) error {
			if (file == "") == (url == "") {
				return errors.New("ingest: exactly one of --file and --url is required")
			}
			ctx, log := commandContext(cmd)

			st, err := buildStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			in := ingestion.Input{DocumentID: documentID, OwnerID: owner, Title: title}
			if file != "" {
				raw, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				in.Text = string(raw)
				if in.Title == "" {
					in.Title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
				}
			}

			log.Info("starting ingestion", slog.String("owner_id", owner), slog.String("source", file+url))
			if url != "" {
				doc, err := st.svc.IngestURL(ctx, in, url)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), doc)
			}
			doc, err := st.svc.Ingest(ctx, in)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), doc)
		}),
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a text or markdown file")
	cmd.Flags().StringVarP(&url, "url", "u", "", "URL of a text or markdown document")
	cmd.Flags().StringVar(&documentID, "document", "", "Document id to create or replace (default: new id)")
	cmd.Flags().StringVar(&owner, "owner", defaultOwner, "Learner id that owns the document")
	cmd.Flags().StringVar(&title, "title", "", "Document title (default: file name or URL)")

	return cmd
}
