package solver

import (
	"time"

	"github.com/cwbudde/qpbridge/internal/assemble"
	"github.com/cwbudde/qpbridge/internal/options"
)

// Backend describes a numerical QP backend and creates instances of it.
type Backend interface {
	// ID returns the backend identity used to address options and details.
	ID() options.SolverID

	// Available reports whether the backend can run in this build/environment.
	Available() bool

	// KnownOptions lists every option name the backend accepts.
	KnownOptions() []string

	// StatusTable classifies every raw status code the backend can return.
	StatusTable() StatusTable

	// Setup builds a backend instance for the given dimensions, sparsity
	// pattern and resolved options.
	Setup(qp *assemble.QP, opts options.Values) (Instance, error)
}

// Instance is one set-up backend holding its factorization state.
// An Instance is used by one solve at a time.
type Instance interface {
	// UpdateBounds replaces l and u while keeping P, q, A and the options.
	UpdateBounds(l, u []float64) error

	// Solve runs the backend. initialGuess is nil or has length N.
	Solve(initialGuess []float64) (Raw, error)
}

// Raw is what a backend returns, uninterpreted.
type Raw struct {
	Status     int
	Iterations int

	// X is the primal vector, or a dual-infeasibility certificate.
	X []float64
	// Y is the optional dual vector.
	Y []float64

	// Objective is the backend-reported ½xᵀPx + qᵀx, without the constant offset.
	Objective    float64
	HasObjective bool

	SolveTime time.Duration
	Details   SolverDetails
}
