package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skelly-dev/sumtree/internal/watch"
)

func RunWatch(cmd *cobra.Command, args []string) error {
	debounce := watch.DefaultDebounce
	if cmd.Flags().Lookup("debounce") != nil {
		value, err := cmd.Flags().GetDuration("debounce")
		if err != nil {
			return fmt.Errorf("failed to read --debounce flag: %w", err)
		}
		debounce = value
	}

	s, err := openSession(cmd, args, true)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	progress := newProgressReporter(cmd.ErrOrStderr(), "summarize", false)

	rerun := func(ctx context.Context, changed []string) error {
		if len(changed) > 0 {
			fmt.Fprintf(out, "changed (%d): %s\n", len(changed), SummarizePaths(changed, 8))
		}
		result, err := s.runOnce(ctx, progress, false)
		if err != nil {
			return err
		}
		return PrintRunSummary(out, result, false)
	}
	if err := rerun(ctx, nil); err != nil {
		return err
	}

	d, err := watch.New(treeDir(s.root), s.filter, watch.Options{
		Debounce: debounce,
		Ignore: []string{
			relToTree(s.root, s.cfg.CachePath()),
			relToTree(s.root, s.cfg.OutputPath()),
		},
		Logger: s.log,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Fprintf(out, "watching %s (debounce %s), press Ctrl+C to stop\n", s.root, debounce.Round(time.Millisecond))
	return d.Run(ctx, rerun)
}
