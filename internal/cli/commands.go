// Command implementations for status/list/build/clean/validate: tabwriter
// tables, a colorized status column, and a common
// load-config-then-iterate-targets shape, operating over BaseTarget and the
// State Store rather than a per-target-kind type hierarchy or an ad hoc
// ".poltergeist/state" directory.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/builder"
	"github.com/poltergeist/poltergeist/internal/gitinfo"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
)

func newStatusCmd() *cobra.Command {
	var target string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show build status of all targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(newLogger())
			if err != nil {
				return err
			}
			return runStatus(p, target, asJSON)
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "only show this target")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func runStatus(p *project, target string, asJSON bool) error {
	type row struct {
		Target    string `json:"target"`
		Status    string `json:"status"`
		LastBuild string `json:"lastBuild"`
		Builds    int    `json:"builds"`
	}
	var rows []row
	for _, t := range p.targets {
		if target != "" && t.Name != target {
			continue
		}
		status := "idle"
		lastBuild := "-"
		builds := 0
		if st, err := p.store.Read(t.Name); err == nil {
			if st.LastBuild != nil {
				status = string(st.LastBuild.Status)
				lastBuild = st.LastBuild.FinishedAt.Format("15:04:05")
			}
			builds = len(st.BuildStats.SuccessfulBuilds)
		}
		rows = append(rows, row{Target: t.Name, Status: status, LastBuild: lastBuild, Builds: builds})
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tLAST BUILD\tBUILDS")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Target, colorStatus(r.Status), r.LastBuild, r.Builds)
	}
	return w.Flush()
}

func colorStatus(status string) string {
	switch model.BuildStatus(status) {
	case model.BuildStatusSuccess:
		return color.GreenString(status)
	case model.BuildStatusFailure:
		return color.RedString(status)
	case model.BuildStatusBuilding:
		return color.YellowString(status)
	default:
		return color.WhiteString(status)
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(newLogger())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tENABLED\tWATCH PATHS")
			for _, t := range p.targets {
				enabled := "✓"
				if !t.IsEnabled() {
					enabled = "✗"
				}
				watchPaths := ""
				if len(t.WatchPaths) > 0 {
					watchPaths = t.WatchPaths[0]
					if len(t.WatchPaths) > 1 {
						watchPaths += fmt.Sprintf(" (+%d more)", len(t.WatchPaths)-1)
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Type, enabled, watchPaths)
			}
			return w.Flush()
		},
	}
}

func newBuildCmd() *cobra.Command {
	var force bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "build [target]",
		Short: "Build a target once, bypassing the watcher",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(newLogger())
			if err != nil {
				return err
			}
			var name string
			if len(args) > 0 {
				name = args[0]
			} else if len(p.targets) == 1 {
				name = p.targets[0].Name
			} else {
				return fmt.Errorf("multiple targets configured, specify one")
			}
			return runBuildOnce(cmd.Context(), p, name, force, asJSON)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "build even if the lock is held")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the outcome as JSON")
	return cmd
}

func runBuildOnce(ctx context.Context, p *project, name string, force, asJSON bool) error {
	target := p.find(name)
	if target == nil {
		return fmt.Errorf("target not found: %s", name)
	}

	held, err := p.lockMgr.IsHeld(name)
	if err != nil {
		return err
	}
	if held && !force {
		printError(fmt.Sprintf("build lock held for %s (use --force to override)", name))
		return fmt.Errorf("%w: %s", model.ErrLockHeld, name)
	}
	if held && force {
		p.lockMgr.ForceUnlock(name)
	}

	handle, err := p.lockMgr.TryAcquire(name, target.BuildCommand)
	if err != nil {
		return err
	}
	defer handle.Release()

	printInfo(fmt.Sprintf("building %s", name))
	b := builder.New(target, p.root, p.log)
	outcome, err := b.Run(ctx, nil)
	if err != nil && !errors.Is(err, model.ErrBuildTimeout) {
		return err
	}
	if outcome.GitHash == "" {
		if hash, herr := gitinfo.HeadHash(p.root); herr == nil {
			outcome.GitHash = hash
		}
	}
	if _, serr := p.store.RecordBuildOutcome(name, outcome); serr != nil {
		p.log.Warn("failed to record build outcome", logging.WithField("error", serr))
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(outcome)
	}

	if outcome.Status == model.BuildStatusSuccess {
		printSuccess(fmt.Sprintf("built %s in %dms", name, outcome.DurationMs))
		return nil
	}
	printError(fmt.Sprintf("build failed for %s: %s", name, outcome.ErrorSummary))
	return fmt.Errorf("%w: %s", model.ErrBuildFailed, name)
}

func newCleanCmd() *cobra.Command {
	var all bool
	var days int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale state and build-lock files",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(newLogger())
			if err != nil {
				return err
			}
			return runClean(p, all, days, dryRun)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every target's state unconditionally")
	cmd.Flags().IntVarP(&days, "days", "d", 7, "remove state inactive for at least this many days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without removing it")
	return cmd
}

func runClean(p *project, all bool, days int, dryRun bool) error {
	cutoff := time.Now().AddDate(0, 0, -days)
	removed := 0
	for _, t := range p.targets {
		st, err := p.store.Read(t.Name)
		if err != nil {
			continue
		}
		stale := all || (!st.DaemonProcess.IsActive && st.DaemonProcess.LastHeartbeatAt.Before(cutoff))
		if !stale {
			continue
		}
		removed++
		if dryRun {
			printInfo(fmt.Sprintf("would remove state for %s", t.Name))
			continue
		}
		if err := p.store.Remove(t.Name); err != nil {
			printError(fmt.Sprintf("failed to remove state for %s: %v", t.Name, err))
			continue
		}
		p.lockMgr.ForceUnlock(t.Name)
		printInfo(fmt.Sprintf("removed state for %s", t.Name))
	}
	printSuccess(fmt.Sprintf("cleaned %d target(s)", removed))
	return nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(newLogger())
			if err != nil {
				printError(fmt.Sprintf("configuration is invalid: %v", err))
				return err
			}
			printSuccess(fmt.Sprintf("configuration is valid (%d target(s))", len(p.targets)))
			return nil
		},
	}
}
