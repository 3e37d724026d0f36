package cli

import (
	"github.com/spf13/cobra"
)

func RunSummarize(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	prune, err := OptionalBoolFlag(cmd, "prune", false)
	if err != nil {
		return err
	}

	s, err := openSession(cmd, args, true)
	if err != nil {
		return err
	}
	defer s.close()

	progress := newProgressReporter(cmd.ErrOrStderr(), "summarize", asJSON)
	result, err := s.runOnce(commandContext(cmd), progress, prune)
	if err != nil {
		return err
	}
	return PrintRunSummary(cmd.OutOrStdout(), result, asJSON)
}
