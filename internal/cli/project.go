package cli

import (
	"fmt"

	"github.com/poltergeist/poltergeist/internal/config"
	"github.com/poltergeist/poltergeist/internal/lock"
	"github.com/poltergeist/poltergeist/internal/logging"
	"github.com/poltergeist/poltergeist/internal/model"
	"github.com/poltergeist/poltergeist/internal/state"
)

// project bundles everything a command needs once a config has been loaded:
// the parsed document, its targets, and the State Store / Build Lock
// Manager scoped to this project root.
type project struct {
	configPath string
	root       string
	cfg        *model.Config
	targets    []*model.BaseTarget
	store      *state.Store
	lockMgr    *lock.Manager
	log        logging.Logger
}

// loadProject loads and validates the config at getConfigPath(), resolving
// every component a command might need. Commands that only need a subset
// still pay for opening the Store/Lock Manager, which is cheap (no I/O
// beyond a directory resolution) and keeps this the single config-loading
// path every command shares.
func loadProject(log logging.Logger) (*project, error) {
	configPath := getConfigPath()
	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	targets, err := config.Targets(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse targets: %w", err)
	}
	store, err := state.New(projectRoot, configPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	lockMgr, err := lock.New(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock manager: %w", err)
	}
	return &project{
		configPath: configPath,
		root:       projectRoot,
		cfg:        cfg,
		targets:    targets,
		store:      store,
		lockMgr:    lockMgr,
		log:        log,
	}, nil
}

func (p *project) find(name string) *model.BaseTarget {
	for _, t := range p.targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}
