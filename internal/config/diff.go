package config

import (
	"reflect"

	"github.com/poltergeist/poltergeist/internal/engine"
	"github.com/poltergeist/poltergeist/internal/model"
)

// Diff computes the full ConfigDelta between two loaded configs: target
// additions/removals/modifications via engine.DiffTargets, plus whether the
// watch or scheduling sections changed at all. A structural reflect.DeepEqual
// is sufficient here since both sides are plain, JSON-decoded value types
// with no cycles.
func Diff(prev, next *model.Config) (model.ConfigDelta, error) {
	prevTargets, err := Targets(prev)
	if err != nil {
		return model.ConfigDelta{}, err
	}
	nextTargets, err := Targets(next)
	if err != nil {
		return model.ConfigDelta{}, err
	}

	delta := engine.DiffTargets(prevTargets, nextTargets)
	delta.WatchChanged = !reflect.DeepEqual(prev.Watchman, next.Watchman)
	delta.SchedulingChanged = !reflect.DeepEqual(prev.BuildScheduling, next.BuildScheduling)
	return delta, nil
}
