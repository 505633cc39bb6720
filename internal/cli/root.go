// Package cli wires the Config Loader, State Store, Build Lock, Watch
// Service, Orchestrator, Daemon Supervisor, Runner, metrics Recorder, and
// Housekeeper into the command tree. An explicit build()
// step populates persistent --config/--root/--log-level flags and
// subcommands rather than a package-level init(), with colorized print
// helpers for user-facing output. See DESIGN.md for the command table and
// what was dropped from it.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/logging"
)

var (
	cfgFile     string
	projectRoot string
	logLevel    string
	version     string

	// exitCode carries the target's own exit code out of `polter`, since
	// cobra's RunE only communicates success/failure, not an arbitrary code.
	exitCode int
)

// ExitCode returns the process exit code to use after Execute returns: the
// target's propagated exit code for `polter`, 1 for any other command that
// returned an error, 0 otherwise. Call this only after Execute has returned.
func ExitCode(executeErr error) int {
	if exitCode != 0 {
		return exitCode
	}
	if executeErr != nil {
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "poltergeist",
	Short: "The invisible build system that haunts your code",
	Long: `👻 Poltergeist watches your project files and automatically rebuilds
targets when changes are detected.`,
}

// Execute runs the CLI with the given build version string.
func Execute(v string) error {
	version = v
	build()
	return rootCmd.Execute()
}

func build() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: poltergeist.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newHauntCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newBuildCmd(),
		newListCmd(),
		newCleanCmd(),
		newValidateCmd(),
		newPolterCmd(),
		newDaemonWorkerCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("👻 Poltergeist v%s\n", version)
		},
	}
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(projectRoot, "poltergeist.config.json")
}

func newLogger() logging.Logger {
	return logging.New(os.Stdout, logLevel)
}

func printSuccess(msg string) { fmt.Printf("👻 %s %s\n", color.GreenString("[Poltergeist]"), msg) }
func printInfo(msg string)    { fmt.Printf("👻 %s %s\n", color.CyanString("[Poltergeist]"), msg) }
func printWarning(msg string) { fmt.Printf("👻 %s %s\n", color.YellowString("[Poltergeist]"), msg) }
func printError(msg string) {
	fmt.Fprintf(os.Stderr, "👻 %s %s\n", color.RedString("[Poltergeist]"), msg)
}
