package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skelly-dev/sumtree/internal/sink"
	"github.com/skelly-dev/sumtree/internal/summary"
)

func RunRender(cmd *cobra.Command, args []string) error {
	input, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", args[0], err)
	}
	formatNames, err := OptionalStringSliceFlag(cmd, "format")
	if err != nil {
		return err
	}
	if len(formatNames) == 0 {
		formatNames = []string{string(sink.HTML), string(sink.Markdown)}
	}
	formats, err := sink.ParseFormats(formatNames)
	if err != nil {
		return err
	}
	outputDir, err := OptionalStringFlag(cmd, "output-dir")
	if err != nil {
		return err
	}
	if outputDir == "" {
		outputDir = filepath.Dir(input)
	}
	experiment, err := OptionalStringFlag(cmd, "experiment")
	if err != nil {
		return err
	}
	runIndex, err := OptionalIntFlag(cmd, "run", -1)
	if err != nil {
		return err
	}

	var doc summary.Document
	if experiment != "" {
		doc, err = readExperimentRun(input, experiment, runIndex)
	} else {
		doc, err = sink.ReadDocument(input)
	}
	if err != nil {
		return err
	}
	if _, err := summary.FromDocument(doc); err != nil {
		return fmt.Errorf("invalid summary document %s: %w", input, err)
	}

	written, err := sink.WriteAll(outputDir, doc, formats)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(written) == 0 {
		fmt.Fprintf(out, "render: outputs in %s are up to date\n", outputDir)
		return nil
	}
	for _, path := range written {
		fmt.Fprintf(out, "wrote %s\n", path)
	}
	return nil
}

// readExperimentRun picks one run of experiment from a results file. A
// negative index selects the latest run.
func readExperimentRun(path, experiment string, index int) (summary.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return summary.Document{}, err
	}
	var results map[string][]summary.Document
	if err := json.Unmarshal(data, &results); err != nil {
		return summary.Document{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	runs := results[experiment]
	if len(runs) == 0 {
		return summary.Document{}, fmt.Errorf("experiment %q not found in %s", experiment, path)
	}
	if index < 0 {
		index = len(runs) - 1
	}
	if index >= len(runs) {
		return summary.Document{}, fmt.Errorf("experiment %q has %d runs, no run %d", experiment, len(runs), index)
	}
	return runs[index], nil
}
