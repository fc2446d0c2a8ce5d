package solver

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/program"
)

// SolutionResult is the backend-independent classification of a solve.
type SolutionResult int

const (
	SolverError SolutionResult = iota
	Success
	PrimalInfeasible
	DualInfeasible
	IterationLimitReached
)

func (r SolutionResult) String() string {
	switch r {
	case Success:
		return "success"
	case PrimalInfeasible:
		return "primal_infeasible"
	case DualInfeasible:
		return "dual_infeasible"
	case IterationLimitReached:
		return "iteration_limit"
	default:
		return "solver_error"
	}
}

var (
	// InfeasibleCost is reported as the optimal cost of a primal infeasible problem.
	InfeasibleCost = math.Inf(1)
	// UnboundedCost is reported as the optimal cost of a dual infeasible (unbounded) problem.
	UnboundedCost = math.Inf(-1)
)

// ErrDetailsMismatch is returned when details are requested for a backend that did not produce the result.
var ErrDetailsMismatch = errors.New("solver details type mismatch")

// SolverDetails is the backend-specific diagnostic record attached to a Result.
type SolverDetails interface {
	SolverID() options.SolverID
	// RawStatus returns the backend's own status code.
	RawStatus() int
}

// StatusTable maps raw backend codes to SolutionResult. Codes not present classify as SolverError.
type StatusTable map[int]SolutionResult

// Classify returns the SolutionResult for code.
func (t StatusTable) Classify(code int) SolutionResult {
	if r, ok := t[code]; ok {
		return r
	}
	return SolverError
}

// CostMismatch records a disagreement between the reconstructed cost and the backend-reported one.
type CostMismatch struct {
	Reconstructed float64
	Reported      float64
}

// Result is the uniform outcome of a solve.
type Result struct {
	solverID   options.SolverID
	status     SolutionResult
	rawStatus  int
	iterations int
	x          []float64
	cost       float64
	solveTime  time.Duration
	details    SolverDetails
	mismatch   *CostMismatch
	vars       []program.Variable
	owner      *program.Problem
}

// SolverID returns the backend that produced the result.
func (r *Result) SolverID() options.SolverID { return r.solverID }

// Status returns the classification.
func (r *Result) Status() SolutionResult { return r.status }

// IsSuccess reports Status() == Success.
func (r *Result) IsSuccess() bool { return r.status == Success }

// RawStatus returns the backend status code.
func (r *Result) RawStatus() int { return r.rawStatus }

// Iterations returns the backend iteration count.
func (r *Result) Iterations() int { return r.iterations }

// SolveTime returns the wall time of the backend solve call.
func (r *Result) SolveTime() time.Duration { return r.solveTime }

// OptimalCost returns the reconstructed cost on success, InfeasibleCost,
// UnboundedCost, or NaN for the remaining statuses.
func (r *Result) OptimalCost() float64 { return r.cost }

// SolutionVector returns the solution indexed by variable id.
func (r *Result) SolutionVector() []float64 { return slices.Clone(r.x) }

// Solution returns the value of v.
func (r *Result) Solution(v program.Variable) (float64, error) {
	if r.owner == nil || !r.owner.Owns(v) || v.ID() >= len(r.x) {
		return math.NaN(), &program.UnknownVariableError{Var: v}
	}
	return r.x[v.ID()], nil
}

// Variables returns the variables the solution vector is indexed by.
func (r *Result) Variables() []program.Variable { return slices.Clone(r.vars) }

// CostMismatch returns the recorded cost inconsistency, or nil.
func (r *Result) CostMismatch() *CostMismatch { return r.mismatch }

// Details returns the raw backend details.
func (r *Result) Details() SolverDetails { return r.details }

// GetSolverDetails returns the details of r as T. It fails closed with
// ErrDetailsMismatch when r was produced by a different backend.
func GetSolverDetails[T SolverDetails](r *Result) (T, error) {
	var zero T
	d, ok := r.details.(T)
	if !ok || d.SolverID() != r.solverID {
		return zero, fmt.Errorf("%w: result produced by %s, requested %T", ErrDetailsMismatch, r.solverID, zero)
	}
	return d, nil
}
