package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func OptionalStringFlag(cmd *cobra.Command, name string) (string, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return "", nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return strings.TrimSpace(value), nil
}

func OptionalBoolFlag(cmd *cobra.Command, name string, fallback bool) (bool, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return fallback, nil
	}
	value, err := cmd.Flags().GetBool(name)
	if err != nil {
		return fallback, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

func OptionalIntFlag(cmd *cobra.Command, name string, fallback int) (int, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return fallback, nil
	}
	value, err := cmd.Flags().GetInt(name)
	if err != nil {
		return fallback, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

func OptionalStringSliceFlag(cmd *cobra.Command, name string) ([]string, error) {
	if cmd == nil || cmd.Flags().Lookup(name) == nil {
		return nil, nil
	}
	value, err := cmd.Flags().GetStringSlice(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return value, nil
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile string
	verbosity  int
	quiet      bool
}

func readGlobalFlags(cmd *cobra.Command) (globalFlags, error) {
	var g globalFlags
	var err error
	if g.configFile, err = OptionalStringFlag(cmd, "config"); err != nil {
		return g, err
	}
	if cmd != nil && cmd.Flags().Lookup("verbose") != nil {
		if g.verbosity, err = cmd.Flags().GetCount("verbose"); err != nil {
			return g, fmt.Errorf("failed to read --verbose flag: %w", err)
		}
	}
	if g.quiet, err = OptionalBoolFlag(cmd, "quiet", false); err != nil {
		return g, err
	}
	return g, nil
}
