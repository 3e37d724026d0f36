package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func resolveWorkingDirectory() (string, error) {
	rootPath, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return rootPath, nil
}

// resolveRoot returns the absolute path named by the optional positional
// argument, or the working directory.
func resolveRoot(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return resolveWorkingDirectory()
	}
	rootPath, err := filepath.Abs(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", args[0], err)
	}
	return rootPath, nil
}

// treeDir is the directory that holds rootPath's ignore rules and outputs.
func treeDir(rootPath string) string {
	if info, err := os.Stat(rootPath); err == nil && !info.IsDir() {
		return filepath.Dir(rootPath)
	}
	return rootPath
}

// relToTree renders p relative to the tree directory when it lies inside it.
func relToTree(rootPath, p string) string {
	rel, err := filepath.Rel(treeDir(rootPath), p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return filepath.ToSlash(rel)
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
