package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/daemon"
	"github.com/poltergeist/poltergeist/internal/engine"
	"github.com/poltergeist/poltergeist/internal/eventbus"
	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/metrics"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/schedule"
	"github.com/poltergeist/poltergeist/internal/state"
	"github.com/poltergeist/poltergeist/internal/watch"
)

// heartbeatPeriod is how often the worker refreshes DaemonProcess.lastHeartbeatAt
// across every target it owns.
const heartbeatPeriod = 10 * time.Second

// configReloadDebounce is how long the config file watcher waits for
// activity to settle before reloading and diffing against the running config.
const configReloadDebounce = 500 * time.Millisecond

func newHauntCmd() *cobra.Command {
	var target string
	var foreground bool
	var verbose bool
	var metricsAddr string
	var scheduledClean bool

	cmd := &cobra.Command{
		Use:     "haunt",
		Aliases: []string{"start"},
		Short:   "Start the Poltergeist daemon for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logLevel = "debug"
			}
			log := newLogger()
			configPath := getConfigPath()

			if target != "" {
				cfg, err := config.NewLoader().Load(configPath)
				if err != nil {
					return err
				}
				targets, err := config.Targets(cfg)
				if err != nil {
					return err
				}
				found := false
				for _, t := range targets {
					if t.Name == target {
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("target not found: %s", target)
				}
			}

			if foreground {
				return runWorker(workerOptions{
					configPath:     configPath,
					root:           projectRoot,
					target:         target,
					metricsAddr:    metricsAddr,
					scheduledClean: scheduledClean,
					signalReady:    false,
					log:            log,
				})
			}

			sup, err := daemon.New(projectRoot, configPath)
			if err != nil {
				return err
			}
			var extraArgs []string
			if target != "" {
				extraArgs = append(extraArgs, "--target", target)
			}
			if metricsAddr != "" {
				extraArgs = append(extraArgs, "--metrics-addr", metricsAddr)
			}
			if scheduledClean {
				extraArgs = append(extraArgs, "--enable-scheduled-clean")
			}
			extraArgs = append(extraArgs, "--log-level", logLevel)
			info, err := sup.Spawn(extraArgs...)
			if err != nil {
				printError(fmt.Sprintf("failed to start daemon: %v", err))
				return err
			}
			printSuccess(fmt.Sprintf("daemon started (pid %d)", info.PID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "only watch/build this target")
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground instead of detaching")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "verbose logging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().BoolVar(&scheduledClean, "enable-scheduled-clean", false, "periodically reclaim stale build locks")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Aliases: []string{"rest"},
		Short:   "Stop the daemon for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := daemon.New(projectRoot, getConfigPath())
			if err != nil {
				return err
			}
			if err := sup.Stop(10 * time.Second); err != nil {
				printError(fmt.Sprintf("failed to stop daemon: %v", err))
				return err
			}
			printSuccess("daemon stopped")
			return nil
		},
	}
}

func newRestartCmd() *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon for this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := daemon.New(projectRoot, getConfigPath())
			if err != nil {
				return err
			}
			if err := sup.Stop(10 * time.Second); err != nil && sup.IsRunning() {
				return err
			}
			time.Sleep(time.Second)
			if foreground {
				return runWorker(workerOptions{
					configPath: getConfigPath(),
					root:       projectRoot,
					log:        newLogger(),
				})
			}
			info, err := sup.Spawn()
			if err != nil {
				printError(fmt.Sprintf("failed to restart daemon: %v", err))
				return err
			}
			printSuccess(fmt.Sprintf("daemon restarted (pid %d)", info.PID))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground instead of detaching")
	return cmd
}

// newDaemonWorkerCmd is the hidden entrypoint the Daemon Supervisor
// re-invokes this same binary with, in worker mode. It is not part of the
// documented command table.
func newDaemonWorkerCmd() *cobra.Command {
	var target, metricsAddr string
	var scheduledClean bool

	cmd := &cobra.Command{
		Use:    "daemon-worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(workerOptions{
				configPath:     getConfigPath(),
				root:           projectRoot,
				target:         target,
				metricsAddr:    metricsAddr,
				scheduledClean: scheduledClean,
				signalReady:    true,
				log:            newLogger(),
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "only watch/build this target")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	cmd.Flags().BoolVar(&scheduledClean, "enable-scheduled-clean", false, "periodically reclaim stale build locks")
	return cmd
}

type workerOptions struct {
	configPath     string
	root           string
	target         string
	metricsAddr    string
	scheduledClean bool
	signalReady    bool
	log            logging.Logger
}

// runWorker is the Orchestrator's run loop: load config, bring up the
// supporting components, start watching, signal readiness (if spawned by
// the Supervisor), and block until a termination signal arrives.
func runWorker(opts workerOptions) error {
	log := opts.log
	cfg, err := config.NewLoader().Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	targets, err := config.Targets(cfg)
	if err != nil {
		return fmt.Errorf("failed to parse targets: %w", err)
	}
	if opts.target != "" {
		filtered := targets[:0]
		for _, t := range targets {
			if t.Name == opts.target {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) == 0 {
			return fmt.Errorf("target not found: %s", opts.target)
		}
		targets = filtered
	}

	store, err := state.New(opts.root, opts.configPath, log)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	lockMgr, err := lock.New(opts.root)
	if err != nil {
		return fmt.Errorf("failed to open lock manager: %w", err)
	}
	watcher := watch.NewFSNotifyService(log)

	schedulingCfg := model.BuildSchedulingConfig{Parallelization: 2}
	if cfg.BuildScheduling != nil {
		schedulingCfg = *cfg.BuildScheduling
	}
	orch := engine.NewOrchestrator(opts.root, store, lockMgr, watcher, schedulingCfg, log)

	var recorder *metrics.Recorder
	var metricsServer *http.Server
	healthy := int32(0)
	if opts.metricsAddr != "" {
		recorder = metrics.NewRecorder()
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if atomic.LoadInt32(&healthy) == 1 {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		metricsServer = &http.Server{Addr: opts.metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", logging.WithField("error", err))
			}
		}()
	}

	bus := eventbus.Connect(os.Getenv("POLTERGEIST_NATS_URL"), "poltergeist", log)
	defer bus.Close()
	orch.WithObservability(recorder, bus)

	var housekeeper *schedule.Housekeeper
	if opts.scheduledClean {
		housekeeper, err = schedule.New(lockMgr, store, log, func() []string {
			names := make([]string, 0, len(targets))
			for _, t := range targets {
				names = append(names, t.Name)
			}
			return names
		})
		if err == nil {
			housekeeper.Start(schedule.DefaultCleanInterval)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store.StartHeartbeat(heartbeatPeriod)

	if err := orch.Start(ctx, targets); err != nil {
		cancel()
		store.StopHeartbeat()
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	atomic.StoreInt32(&healthy, 1)

	stopConfigWatch, err := config.WatchFile(opts.configPath, config.NewLoader(), cfg, configReloadDebounce, log, func(next *model.Config, delta model.ConfigDelta) {
		delta = filterDelta(delta, opts.target)
		if delta.Empty() {
			return
		}
		if delta.WatchChanged || delta.SchedulingChanged {
			log.Warn("watchman/buildScheduling config changed; restart the daemon to apply it")
		}
		if err := orch.ApplyDelta(delta); err != nil {
			log.Warn("failed to apply config delta", logging.WithField("error", err))
			return
		}
		log.Info("reloaded config", logging.WithField("added", len(delta.Added)), logging.WithField("removed", len(delta.Removed)), logging.WithField("modified", len(delta.Modified)))
	})
	if err != nil {
		log.Warn("config hot-reload disabled: failed to watch config file", logging.WithField("error", err))
	}

	if opts.signalReady {
		daemon.SignalReady()
	}
	log.Info("poltergeist is watching", logging.WithField("targets", len(targets)))

	<-ctx.Done()

	if stopConfigWatch != nil {
		stopConfigWatch()
	}
	atomic.StoreInt32(&healthy, 0)
	orch.Stop()
	store.StopHeartbeat()
	if housekeeper != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		housekeeper.Stop(stopCtx)
		stopCancel()
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	return nil
}

// filterDelta restricts a reload delta to a single target name when the
// worker itself was scoped to one via --target, so a config change to an
// unrelated target is never applied to a single-target daemon.
func filterDelta(delta model.ConfigDelta, onlyTarget string) model.ConfigDelta {
	if onlyTarget == "" {
		return delta
	}
	keep := func(targets []*model.BaseTarget) []*model.BaseTarget {
		out := targets[:0]
		for _, t := range targets {
			if t.Name == onlyTarget {
				out = append(out, t)
			}
		}
		return out
	}
	delta.Added = keep(delta.Added)
	delta.Removed = keep(delta.Removed)
	delta.Modified = keep(delta.Modified)
	return delta
}
