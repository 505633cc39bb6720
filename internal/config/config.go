// Package config implements the Config Loader & Differ: parsing a
// poltergeist.config.json/.yaml file into a model.Config, validating every
// target, and diffing two loaded configs into a model.ConfigDelta for hot
// reload. Loading tries JSON first and falls back to a YAML-to-JSON
// roundtrip for the json.RawMessage target fields. Env var overrides
// (viper) and .env loading (godotenv) round out the configuration surface
// (see DESIGN.md).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/poltergeist/internal/model"
)

// supportedConfigVersion is the only top-level "version" value this loader
// accepts.
const supportedConfigVersion = "1.0"

// Loader parses and validates poltergeist configuration files.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("POLTERGEIST")
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load reads path (JSON or YAML), applies any POLTERGEIST_-prefixed env
// overrides for the top-level scheduling/logging knobs, and validates every
// target.
func (l *Loader) Load(path string) (*model.Config, error) {
	// .env in the project directory, if present, seeds process environment
	// before viper reads it back out; missing is not an error.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	l.applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeConfigStrict decodes data as JSON into a model.Config, rejecting any
// field not recognized by the struct. Unknown keys are errors, not silently
// preserved; this applies to the top-level document only, since per-target
// json.RawMessage payloads are validated separately by model.ParseTarget.
func decodeConfigStrict(data []byte) (*model.Config, error) {
	var cfg model.Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parse(data []byte) (*model.Config, error) {
	if cfg, err := decodeConfigStrict(data); err == nil && cfg.Version != "" {
		return cfg, nil
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON or YAML: %v", model.ErrConfigInvalid, err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfigInvalid, err)
	}
	cfg, err := decodeConfigStrict(asJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfigInvalid, err)
	}
	return cfg, nil
}

func (l *Loader) applyEnvOverrides(cfg *model.Config) {
	if lvl := l.v.GetString("LOG_LEVEL"); lvl != "" {
		if cfg.Logging == nil {
			cfg.Logging = &model.LoggingConfig{}
		}
		cfg.Logging.Level = model.LogLevel(lvl)
	}
	if l.v.IsSet("PARALLELIZATION") {
		if cfg.BuildScheduling == nil {
			cfg.BuildScheduling = &model.BuildSchedulingConfig{}
		}
		cfg.BuildScheduling.Parallelization = l.v.GetInt("PARALLELIZATION")
	}
}

// Validate checks version, target name uniqueness, and each target's own
// invariants.
func Validate(cfg *model.Config) error {
	if cfg.Version != supportedConfigVersion {
		return fmt.Errorf("%w: unsupported version %q", model.ErrConfigInvalid, cfg.Version)
	}
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("%w: no targets defined", model.ErrConfigInvalid)
	}

	seen := make(map[string]bool, len(cfg.Targets))
	for i, raw := range cfg.Targets {
		t, err := model.ParseTarget(raw)
		if err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate target name %q", model.ErrConfigInvalid, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Targets parses every raw target in cfg, skipping none: Validate must have
// already been called.
func Targets(cfg *model.Config) ([]*model.BaseTarget, error) {
	out := make([]*model.BaseTarget, 0, len(cfg.Targets))
	for _, raw := range cfg.Targets {
		t, err := model.ParseTarget(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
