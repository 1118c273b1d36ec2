// Command studyai ingests study material, generates quizzes from it, scores
// attempts, and writes study notes targeted at the weak topics of each
// attempt. It runs as a CLI or as an HTTP server (`studyai serve`).
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/studyai-go/cmd/studyai/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
