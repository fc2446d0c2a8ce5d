// Package osqp is an operator-splitting (ADMM) backend for convex QPs in the
// OSQP formulation
//
//	minimize ½ xᵀPx + qᵀx  subject to  l ≤ Ax ≤ u
//
// with primal/dual infeasibility detection and optional solution polishing.
// Linear algebra is dense and delegated to gonum.
package osqp

import (
	"slices"

	"github.com/go-logr/logr"

	"github.com/cwbudde/qpbridge/internal/assemble"
	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/solver"
)

// ID is the solver identity of this backend.
const ID options.SolverID = "osqp"

// Backend implements solver.Backend.
type Backend struct {
	log logr.Logger
}

// Option configures the Backend.
type Option func(*Backend)

// WithLogger routes verbose progress output.
func WithLogger(log logr.Logger) Option {
	return func(b *Backend) { b.log = log }
}

// New creates the backend.
func New(opts ...Option) *Backend {
	b := &Backend{log: logr.Discard()}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) ID() options.SolverID { return ID }

// Available is always true; the backend is pure Go.
func (b *Backend) Available() bool { return true }

func (b *Backend) KnownOptions() []string { return slices.Clone(knownOptions) }

func (b *Backend) StatusTable() solver.StatusTable { return statusTable }

// Setup copies the problem data, builds and factors the reduced KKT matrix.
func (b *Backend) Setup(qp *assemble.QP, opts options.Values) (solver.Instance, error) {
	set, err := settingsFrom(opts)
	if err != nil {
		return nil, err
	}
	return newWorkspace(qp, set, b.log)
}
