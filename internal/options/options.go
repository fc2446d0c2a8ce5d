// Package options holds solver option sets and merges them into the final
// option values handed to a backend.
package options

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cast"
)

// ErrUnrecognizedOption is returned when an option addressed to the active
// backend is not one of the names that backend understands.
var ErrUnrecognizedOption = errors.New("unrecognized solver option")

// SolverID names a backend, e.g. "osqp".
type SolverID string

// Set maps backend → option name → value. Values are scalars: int, float64, bool or string.
// The zero value is ready to use only for reads; use Set.Put to write.
type Set map[SolverID]map[string]any

// Put stores value for name under id, allocating as needed.
func (s *Set) Put(id SolverID, name string, value any) {
	if *s == nil {
		*s = make(Set)
	}
	if (*s)[id] == nil {
		(*s)[id] = make(map[string]any)
	}
	(*s)[id][name] = value
}

// For returns the options addressed to id. The returned map must not be modified.
func (s Set) For(id SolverID) map[string]any {
	return s[id]
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for id, m := range s {
		out[id] = maps.Clone(m)
	}
	return out
}

// ParseAssignments turns "name=value" strings into options for id.
// Values are kept as strings; backends coerce them.
func ParseAssignments(id SolverID, assignments map[string]string) Set {
	var s Set
	for k, v := range assignments {
		s.Put(id, strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return s
}

// UnrecognizedOptionError names the option and backend that rejected it.
type UnrecognizedOptionError struct {
	Solver SolverID
	Name   string
}

func (e *UnrecognizedOptionError) Error() string {
	return fmt.Sprintf("unrecognized solver option %q for %s", e.Name, e.Solver)
}

// Is reports ErrUnrecognizedOption equivalence.
func (e *UnrecognizedOptionError) Is(target error) bool {
	return target == ErrUnrecognizedOption
}

// Values is the resolved, flat option map for one backend.
type Values map[string]any

// Resolve merges the three option scopes for backend id, key by key:
// call overrides solver, solver overrides global. Entries addressed to other
// backends are ignored. Every key addressed to id must appear in known.
func Resolve(id SolverID, known []string, global, solver, call Set) (Values, error) {
	out := make(Values)
	for _, scope := range []Set{global, solver, call} {
		for name, v := range scope.For(id) {
			if !slices.Contains(known, name) {
				return nil, &UnrecognizedOptionError{Solver: id, Name: name}
			}
			out[name] = v
		}
	}
	return out, nil
}

// Has reports whether name was set in any scope.
func (v Values) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// Int returns the option as an int, or def when unset.
func (v Values) Int(name string, def int) (int, error) {
	raw, ok := v[name]
	if !ok {
		return def, nil
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return def, fmt.Errorf("option %s: %w", name, err)
	}
	return n, nil
}

// Float returns the option as a float64, or def when unset.
func (v Values) Float(name string, def float64) (float64, error) {
	raw, ok := v[name]
	if !ok {
		return def, nil
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return def, fmt.Errorf("option %s: %w", name, err)
	}
	return f, nil
}

// Bool returns the option as a bool, or def when unset.
func (v Values) Bool(name string, def bool) (bool, error) {
	raw, ok := v[name]
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		return def, fmt.Errorf("option %s: %w", name, err)
	}
	return b, nil
}

// Equal reports whether two resolved option maps hold the same values.
func (v Values) Equal(other Values) bool {
	if len(v) != len(other) {
		return false
	}
	for k, a := range v {
		b, ok := other[k]
		if !ok || cast.ToString(a) != cast.ToString(b) {
			return false
		}
	}
	return true
}
