// Package backends selects a solver backend by name.
package backends

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/cwbudde/qpbridge/internal/backend/mayfly"
	"github.com/cwbudde/qpbridge/internal/backend/osqp"
	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/solver"
)

// ErrUnknownBackend is returned when the name does not match a known backend.
var ErrUnknownBackend = errors.New("unknown solver backend")

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) options.SolverID {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "osqp", "admm":
		return osqp.ID
	case "mayfly", "heuristic":
		return mayfly.ID
	default:
		return options.SolverID(name)
	}
}

// Supported returns the list of backends understood by New.
func Supported() []options.SolverID {
	return []options.SolverID{osqp.ID, mayfly.ID}
}

// New constructs the named backend.
func New(name string, log logr.Logger) (solver.Backend, error) {
	switch NormalizeBackend(name) {
	case osqp.ID:
		return osqp.New(osqp.WithLogger(log.WithName("osqp"))), nil
	case mayfly.ID:
		return mayfly.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}
