// Package health holds the health-state literals ESI reports for its routes.
//
// The upstream contract has changed over time, so the recognised literals are
// configuration data with a stable display order rather than constants baked
// into the aggregation code.
package health

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStateSet is returned when a state set name cannot be resolved
var ErrUnknownStateSet = errors.New("unknown health state set")

// StateSet is an ordered list of recognised status literals
type StateSet []string

// Named state sets
const (
	FiveStateName  = "five-state"
	ThreeStateName = "three-state"
)

// FiveState is the current /meta/status contract
var FiveState = StateSet{"Unknown", "OK", "Degraded", "Down", "Recovering"}

// ThreeState is the legacy status.json contract
var ThreeState = StateSet{"green", "yellow", "red"}

// Contains reports whether status is one of the literals in the set.
// Matching is exact; upstream literals are case-sensitive.
func (s StateSet) Contains(status string) bool {
	return s.Index(status) >= 0
}

// Index returns the display position of status, or -1
func (s StateSet) Index(status string) int {
	for i, state := range s {
		if state == status {
			return i
		}
	}
	return -1
}

// Clone returns a copy that can be modified without affecting s
func (s StateSet) Clone() StateSet {
	out := make(StateSet, len(s))
	copy(out, s)
	return out
}

// String renders the set as a comma separated list
func (s StateSet) String() string {
	return strings.Join(s, ",")
}

// Parse resolves a state set from its configuration value. The value is either
// one of the named sets or an explicit comma separated list of literals.
func Parse(value string) (StateSet, error) {
	value = strings.TrimSpace(value)

	switch strings.ToLower(value) {
	case "", FiveStateName:
		return FiveState.Clone(), nil
	case ThreeStateName:
		return ThreeState.Clone(), nil
	}

	if !strings.Contains(value, ",") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStateSet, value)
	}

	var set StateSet
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		state := strings.TrimSpace(part)
		if state == "" {
			return nil, fmt.Errorf("%w: empty literal in %q", ErrUnknownStateSet, value)
		}
		if seen[state] {
			return nil, fmt.Errorf("%w: duplicate literal %q", ErrUnknownStateSet, state)
		}
		seen[state] = true
		set = append(set, state)
	}

	return set, nil
}
