package mixin

import (
	"fmt"

	"mixinhost/pkg/transform"
)

// Compose folds the descriptors registered for one target into a single
// transform. Descriptors are grouped by source in first-seen order, each
// group becomes one lib.MixinOf call, and the per-source transforms are
// chained left to right, so every descriptor's effect is applied exactly once
// and sources apply in registration order.
func Compose(lib transform.Library, descriptors []transform.Descriptor) (transform.Transform, error) {
	if len(descriptors) == 0 {
		return transform.Transform{}, ErrNothingToCompose
	}
	target := descriptors[0].Target()

	var order []string
	groups := make(map[string][]transform.Metadata)
	for _, d := range descriptors {
		if d.Target() != target {
			return transform.Transform{}, fmt.Errorf("%w: %s in batch for %s", ErrTargetMismatch, d.Target(), target)
		}
		if _, seen := groups[d.Source()]; !seen {
			order = append(order, d.Source())
		}
		groups[d.Source()] = append(groups[d.Source()], d.Metadata())
	}

	var composed transform.Transform
	for i, source := range order {
		t, err := lib.MixinOf(target, source, groups[source]...)
		if err != nil {
			return transform.Transform{}, err
		}
		if i == 0 {
			composed = t
			continue
		}
		composed = composed.Chain(t)
	}
	return composed, nil
}

// sourcesOf returns the distinct descriptor sources in first-seen order.
func sourcesOf(descriptors []transform.Descriptor) []string {
	seen := make(map[string]struct{}, len(descriptors))
	var out []string
	for _, d := range descriptors {
		if _, ok := seen[d.Source()]; ok {
			continue
		}
		seen[d.Source()] = struct{}{}
		out = append(out, d.Source())
	}
	return out
}
