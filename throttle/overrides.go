/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vasayxtx/go-glob"
)

// Override contains per-key limits. Nil (or zero for Window) fields are inherited from the defaults.
type Override struct {
	Rate   *float64
	Burst  *float64
	Window time.Duration
}

// Float returns a pointer to v. It's handy for filling Override.
func Float(v float64) *float64 {
	return &v
}

// Limits are resolved limits for a key.
type Limits struct {
	Rate   float64
	Burst  float64
	Window time.Duration
}

func (l Limits) merge(o Override) Limits {
	if o.Rate != nil {
		l.Rate = *o.Rate
	}
	if o.Burst != nil {
		l.Burst = *o.Burst
	}
	if o.Window != 0 {
		l.Window = o.Window
	}
	return l
}

type patternOverride struct {
	pattern  string
	match    func(string) bool
	override Override
}

// overrides resolves limits for keys.
// Exact keys win. Keys containing '*' are glob patterns that are tried in lexical order.
type overrides struct {
	exact    map[string]Override
	patterns []patternOverride
}

func newOverrides(src map[string]Override) (*overrides, error) {
	ovs := &overrides{exact: make(map[string]Override, len(src))}
	for key, o := range src {
		if err := validateOverride(o); err != nil {
			return nil, fmt.Errorf("override for %q: %w", key, err)
		}
		if strings.Contains(key, "*") {
			ovs.patterns = append(ovs.patterns, patternOverride{pattern: key, match: glob.Compile(key), override: o})
			continue
		}
		ovs.exact[key] = o
	}
	sort.Slice(ovs.patterns, func(i, j int) bool {
		return ovs.patterns[i].pattern < ovs.patterns[j].pattern
	})
	return ovs, nil
}

func validateOverride(o Override) error {
	if o.Rate != nil {
		if err := validateRate(*o.Rate); err != nil {
			return err
		}
	}
	if o.Burst != nil {
		if err := validateBurst(*o.Burst); err != nil {
			return err
		}
	}
	if o.Window < 0 {
		return fmt.Errorf("window should be >= 0 (0 means default), got %s", o.Window)
	}
	return nil
}

func (ovs *overrides) resolve(defaults Limits, key string) Limits {
	if o, ok := ovs.exact[key]; ok {
		return defaults.merge(o)
	}
	for i := range ovs.patterns {
		if ovs.patterns[i].match(key) {
			return defaults.merge(ovs.patterns[i].override)
		}
	}
	return defaults
}
