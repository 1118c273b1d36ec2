// Package commands defines all Cobra CLI commands for the studyai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/studyai-go/internal/audit"
	"github.com/54b3r/studyai-go/internal/config"
	"github.com/54b3r/studyai-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "studyai",
		Short: "studyai turns study material into quizzes and targeted study notes",
		Long: `studyai ingests study material, generates quizzes from it, scores
attempts, and writes study notes focused on the topics a learner missed.

Backends are selected with MODEL_PROVIDER, EMBEDDING_PROVIDER and
INDEX_BACKEND, or a YAML config file (~/.studyai/config.yaml).
See 'studyai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Env vars always override YAML values.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.studyai/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewQuizCmd(),
		NewSubmitCmd(),
		NewAttemptsCmd(),
		NewNotesCmd(),
		NewAnalyticsCmd(),
		NewVersionCmd(),
	)

	return root
}
