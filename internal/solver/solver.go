// Package solver dispatches assembled problems to a backend and maps the raw
// outcome onto a backend-independent Result.
package solver

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/cwbudde/qpbridge/internal/assemble"
	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/program"
)

var (
	// ErrBackendUnavailable indicates the backend is not available in this build or environment.
	ErrBackendUnavailable = errors.New("solver backend unavailable")
	// ErrSolverFailure wraps a Go error returned by backend setup or solve.
	ErrSolverFailure = errors.New("solver backend failure")
	// ErrInitialGuess is returned when the initial guess length does not match the variable count.
	ErrInitialGuess = errors.New("initial guess has wrong length")
)

// Recorder observes finished solves, e.g. for metrics.
type Recorder interface {
	ObserveSolve(backend string, result string, iterations int, elapsed time.Duration)
}

// Option configures a Solver.
type Option func(*Solver)

// WithDefaults sets the global-default option scope.
func WithDefaults(defaults options.Set) Option {
	return func(s *Solver) { s.defaults = defaults.Clone() }
}

// WithLogger sets the logger. The default discards.
func WithLogger(log logr.Logger) Option {
	return func(s *Solver) { s.log = log }
}

// WithRecorder sets a solve observer.
func WithRecorder(r Recorder) Option {
	return func(s *Solver) { s.rec = r }
}

// Solver owns one backend instance and runs solves against it one at a time.
// Independent Solvers share no state and may be used concurrently.
type Solver struct {
	backend  Backend
	defaults options.Set
	log      logr.Logger
	rec      Recorder

	mu       sync.Mutex
	inst     Instance
	lastQP   *assemble.QP
	lastOpts options.Values
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Solver {
	s := &Solver{backend: backend, log: logr.Discard()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the backend identity.
func (s *Solver) ID() options.SolverID { return s.backend.ID() }

// Available reports whether the backend can run.
func (s *Solver) Available() bool { return s.backend.Available() }

// Solve assembles prob, resolves options and runs the backend.
//
// Declaration, option and availability errors are returned with a nil Result
// and nothing is dispatched. Once the backend has been called a non-nil Result
// with a definite status is always returned; a backend Go error additionally
// yields an error wrapping ErrSolverFailure. initialGuess may be nil.
func (s *Solver) Solve(prob *program.Problem, initialGuess []float64, call options.Set) (*Result, error) {
	id := s.backend.ID()
	if !s.backend.Available() {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, id)
	}

	qp, err := assemble.Assemble(prob)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	if initialGuess != nil && len(initialGuess) != qp.N {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInitialGuess, len(initialGuess), qp.N)
	}

	opts, err := options.Resolve(id, s.backend.KnownOptions(), s.defaults, prob.SolverOptions(), call)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.dispatch(qp, opts, initialGuess)
	res.owner = prob
	res.vars = prob.Variables()[:qp.N]

	if s.rec != nil {
		s.rec.ObserveSolve(string(id), res.status.String(), res.iterations, time.Since(start))
	}
	if res.mismatch != nil {
		s.log.Error(nil, "Reconstructed cost disagrees with backend",
			"inconsistent", true,
			"solver", id,
			"reconstructed", res.mismatch.Reconstructed,
			"reported", res.mismatch.Reported)
	}
	s.log.Info("Solve finished",
		"solver", id,
		"result", res.status.String(),
		"status_val", res.rawStatus,
		"iterations", res.iterations,
		"cost", res.cost,
		"elapsed", time.Since(start))
	return res, err
}

func (s *Solver) dispatch(qp *assemble.QP, opts options.Values, guess []float64) (*Result, error) {
	id := s.backend.ID()
	inst, err := s.instance(qp, opts)
	if err != nil {
		return failedResult(id, qp), fmt.Errorf("%w: %s setup: %w", ErrSolverFailure, id, err)
	}

	raw, err := inst.Solve(guess)
	if err != nil {
		// The instance state is unknown after a failed solve; rebuild next time.
		s.inst, s.lastQP, s.lastOpts = nil, nil, nil
		return failedResult(id, qp), fmt.Errorf("%w: %s solve: %w", ErrSolverFailure, id, err)
	}
	return MapResult(id, s.backend.StatusTable(), raw, qp), nil
}

// instance returns a backend instance for qp, reusing the previous one through
// UpdateBounds when only l and u changed and the options are identical.
func (s *Solver) instance(qp *assemble.QP, opts options.Values) (Instance, error) {
	if s.inst != nil && s.lastQP.SameStructure(qp) && s.lastOpts.Equal(opts) {
		err := s.inst.UpdateBounds(qp.L, qp.U)
		if err == nil {
			s.log.V(1).Info("Reusing backend instance", "solver", s.backend.ID(), "rows", qp.M)
			s.lastQP = qp
			return s.inst, nil
		}
		s.log.V(1).Info("Bound update rejected, rebuilding instance", "solver", s.backend.ID(), "reason", err.Error())
	}

	s.log.V(1).Info("Setting up backend", "solver", s.backend.ID(), "n", qp.N, "m", qp.M,
		"nnz_p", qp.P.NNZ(), "nnz_a", qp.A.NNZ())
	inst, err := s.backend.Setup(qp, opts)
	if err != nil {
		s.inst, s.lastQP, s.lastOpts = nil, nil, nil
		return nil, err
	}
	s.inst, s.lastQP, s.lastOpts = inst, qp, opts
	return inst, nil
}

func failedResult(id options.SolverID, qp *assemble.QP) *Result {
	res := &Result{
		solverID: id,
		status:   SolverError,
		cost:     math.NaN(),
		x:        make([]float64, qp.N),
	}
	fillNaN(res.x)
	return res
}
