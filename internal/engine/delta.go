package engine

import (
	"reflect"

	"github.com/poltergeist/poltergeist/internal/model"
)

// DiffTargets computes the ConfigDelta between two target sets, keyed by name. A
// target present in both but structurally different (per reflect.DeepEqual)
// is reported as Modified.
func DiffTargets(prev, next []*model.BaseTarget) model.ConfigDelta {
	prevByName := make(map[string]*model.BaseTarget, len(prev))
	for _, t := range prev {
		prevByName[t.Name] = t
	}
	nextByName := make(map[string]*model.BaseTarget, len(next))
	for _, t := range next {
		nextByName[t.Name] = t
	}

	var delta model.ConfigDelta
	for name, t := range nextByName {
		old, existed := prevByName[name]
		if !existed {
			delta.Added = append(delta.Added, t)
			continue
		}
		if !targetsEqual(old, t) {
			delta.Modified = append(delta.Modified, t)
		}
	}
	for name, t := range prevByName {
		if _, stillThere := nextByName[name]; !stillThere {
			delta.Removed = append(delta.Removed, t)
		}
	}
	return delta
}

// targetsEqual compares every field of the two targets (reflect.DeepEqual),
// including enabled and kind-specific fields; map comparison does not
// depend on iteration order.
func targetsEqual(a, b *model.BaseTarget) bool {
	return reflect.DeepEqual(a, b)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
