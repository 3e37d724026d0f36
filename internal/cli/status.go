package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func RunStatus(cmd *cobra.Command, args []string) error {
	start := time.Now()
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}

	s, err := openSession(cmd, args, false)
	if err != nil {
		return err
	}
	defer s.close()

	plan, err := s.reducer.Plan(commandContext(cmd))
	if err != nil {
		return err
	}

	planned := make(map[string]bool, len(plan.Nodes))
	for _, node := range plan.Nodes {
		planned[node.Key] = true
	}
	orphaned := make([]string, 0)
	for _, key := range s.reg.Keys() {
		if !planned[key] {
			orphaned = append(orphaned, key)
		}
	}

	stale := plan.Stale()
	summary := StatusSummary{
		Mode:         "status",
		RootPath:     s.root,
		CacheFile:    s.cfg.CachePath(),
		CacheEntries: s.reg.Len(),
		Nodes:        len(plan.Nodes),
		Stale:        len(stale),
		Fresh:        len(plan.Nodes) - len(stale),
		Clean:        len(stale) == 0,
		DurationMS:   time.Since(start).Milliseconds(),
		StaleKeys:    stale,
		SkippedFiles: plan.Skipped,
		OrphanedKeys: orphaned,
	}
	return PrintStatusSummary(cmd.OutOrStdout(), summary, asJSON)
}
