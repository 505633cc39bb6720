package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/runner"
)

func newPolterCmd() *cobra.Command {
	var force, noWait, verbose bool
	var timeoutMs int

	cmd := &cobra.Command{
		Use:                   "polter <target> [args...]",
		Short:                 "Run a target's artifact, rebuilding first if it's stale",
		Args:                  cobra.MinimumNArgs(1),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runner.Options{
				Target:  args[0],
				Args:    args[1:],
				Force:   force,
				NoWait:  noWait,
				Verbose: verbose,
			}
			if timeoutMs > 0 {
				opts.Timeout = time.Duration(timeoutMs) * time.Millisecond
			}
			code := runner.Run(cmd.Context(), opts, newLogger())
			exitCode = code
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run the artifact even if the last build failed")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "don't wait for an in-progress build to finish")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "verbose logging")
	cmd.Flags().IntVar(&timeoutMs, "timeout", 0, "milliseconds to wait for an in-progress build (default 30000)")
	return cmd
}
