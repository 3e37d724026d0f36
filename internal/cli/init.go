package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skelly-dev/sumtree/internal/config"
	"github.com/skelly-dev/sumtree/internal/fileutil"
	"github.com/skelly-dev/sumtree/internal/ignore"
	"github.com/skelly-dev/sumtree/internal/oracle"
)

const defaultRulesFile = `# Extra paths to leave out of summaries, one gitignore-style pattern per line.
# Examples:
# generated/
# *_pb.go
`

func RunInit(cmd *cobra.Command, args []string) error {
	rootPath, err := resolveRoot(args)
	if err != nil {
		return err
	}
	dir := treeDir(rootPath)

	force, err := OptionalBoolFlag(cmd, "force", false)
	if err != nil {
		return err
	}
	provider, err := OptionalStringFlag(cmd, "provider")
	if err != nil {
		return err
	}
	model, err := OptionalStringFlag(cmd, "model")
	if err != nil {
		return err
	}

	cfg := config.Default()
	if provider != "" {
		cfg.Provider = oracle.NormalizeProvider(provider)
	}
	cfg.Model = model
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	configPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := cfg.WriteFile(configPath); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", configPath)

	rulesPath := filepath.Join(dir, ignore.RulesFile)
	created, err := fileutil.WriteIfMissing(rulesPath, []byte(defaultRulesFile), 0644)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "Wrote %s\n", rulesPath)
	}
	return nil
}
