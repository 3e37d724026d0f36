package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skelly-dev/sumtree/internal/oracle"
	"github.com/skelly-dev/sumtree/internal/watch"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sumtree",
		Short: "Summarize a codebase bottom-up with a language model",
		Long: `Sumtree summarizes every source file of a tree, then every directory from
the summaries of its children, up to one summary of the whole project.

Results are cached in .summary_cache.json keyed by content hash, so a
re-run only asks the model about what changed and the directories above it.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <root>/.sumtree.yaml)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress all logs")

	// Core Commands
	summarizeCmd := &cobra.Command{
		Use:   "summarize [path]",
		Short: "Summarize a tree, reusing cached summaries for unchanged nodes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunSummarize,
	}
	addRunFlags(summarizeCmd)
	summarizeCmd.Flags().StringSlice("format", nil, "Output formats: json,html,markdown,yaml")
	summarizeCmd.Flags().String("experiment", "", "Append the run to results.json under this name instead of overwriting outputs")
	summarizeCmd.Flags().Bool("prune", false, "Drop cache entries not used by this run")
	summarizeCmd.Flags().Bool("json", false, "Print machine-readable run summary")

	statusCmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show which summaries the next run would regenerate",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunStatus,
	}
	statusCmd.Flags().String("cache", "", "Cache file (default: <root>/.summary_cache.json)")
	statusCmd.Flags().String("output-dir", "", "Output directory left out of the plan (default: <root>/.sumtree)")
	statusCmd.Flags().Bool("json", false, "Print machine-readable status output")

	watchCmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Summarize, then re-run whenever files change",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunWatch,
	}
	addRunFlags(watchCmd)
	watchCmd.Flags().StringSlice("format", nil, "Output formats: json,html,markdown,yaml")
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a re-run")

	// Output Commands
	renderCmd := &cobra.Command{
		Use:   "render <summary.json>",
		Short: "Render a saved JSON summary to other formats",
		Args:  cobra.ExactArgs(1),
		RunE:  RunRender,
	}
	renderCmd.Flags().StringSlice("format", []string{"html", "markdown"}, "Output formats: json,html,markdown,yaml")
	renderCmd.Flags().String("output-dir", "", "Directory to write into (default: next to the input)")
	renderCmd.Flags().String("experiment", "", "Render one run of this experiment from a results.json file")
	renderCmd.Flags().Int("run", -1, "Index of the experiment run to render (default: latest)")

	// Setup Commands
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default .sumtree.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunInit,
	}
	initCmd.Flags().String("provider", "", "Provider to preset: "+providerList())
	initCmd.Flags().String("model", "", "Model to preset")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	doctorCmd := &cobra.Command{
		Use:   "doctor [path]",
		Short: "Validate configuration, provider credentials and cache health",
		Args:  cobra.MaximumNArgs(1),
		RunE:  RunDoctor,
	}
	doctorCmd.Flags().Bool("json", false, "Print machine-readable doctor output")

	installHookCmd := &cobra.Command{
		Use:   "install-hook",
		Short: "Install git pre-commit hook that refreshes summaries",
		RunE:  RunInstallHook,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sumtree %s\n", version)
		},
	}

	rootCmd.AddCommand(
		summarizeCmd,
		statusCmd,
		watchCmd,
		renderCmd,
		initCmd,
		doctorCmd,
		installHookCmd,
		versionCmd,
	)

	return rootCmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "", "Model provider: "+providerList())
	cmd.Flags().String("model", "", "Model name (default depends on provider)")
	cmd.Flags().String("cache", "", "Cache file (default: <root>/.summary_cache.json)")
	cmd.Flags().String("output-dir", "", "Output directory (default: <root>/.sumtree)")
	cmd.Flags().Int("concurrency", 0, "Maximum concurrent model calls")
}

func providerList() string {
	return strings.Join(oracle.Providers(), "|")
}
