package osqp

import (
	"time"

	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/solver"
)

// Raw status codes.
const (
	StatusSolved                     = 1
	StatusSolvedInaccurate           = 2
	StatusPrimalInfeasibleInaccurate = 3
	StatusDualInfeasibleInaccurate   = 4
	StatusMaxIterReached             = -2
	StatusPrimalInfeasible           = -3
	StatusDualInfeasible             = -4
	StatusTimeLimitReached           = -6
	StatusNonConvex                  = -7
	StatusUnsolved                   = -10
)

var statusTable = solver.StatusTable{
	StatusSolved:                     solver.Success,
	StatusSolvedInaccurate:           solver.IterationLimitReached,
	StatusMaxIterReached:             solver.IterationLimitReached,
	StatusTimeLimitReached:           solver.IterationLimitReached,
	StatusPrimalInfeasible:           solver.PrimalInfeasible,
	StatusPrimalInfeasibleInaccurate: solver.PrimalInfeasible,
	StatusDualInfeasible:             solver.DualInfeasible,
	StatusDualInfeasibleInaccurate:   solver.DualInfeasible,
	StatusNonConvex:                  solver.SolverError,
	StatusUnsolved:                   solver.SolverError,
}

// StatusText returns a human readable name for a raw status code.
func StatusText(code int) string {
	switch code {
	case StatusSolved:
		return "solved"
	case StatusSolvedInaccurate:
		return "solved inaccurate"
	case StatusPrimalInfeasibleInaccurate:
		return "primal infeasible inaccurate"
	case StatusDualInfeasibleInaccurate:
		return "dual infeasible inaccurate"
	case StatusMaxIterReached:
		return "maximum iterations reached"
	case StatusPrimalInfeasible:
		return "primal infeasible"
	case StatusDualInfeasible:
		return "dual infeasible"
	case StatusTimeLimitReached:
		return "run time limit reached"
	case StatusNonConvex:
		return "problem non convex"
	default:
		return "unsolved"
	}
}

// TraceEntry is the residual state at one termination check.
type TraceEntry struct {
	Iter      int     `json:"iter"`
	PrimalRes float64 `json:"primalRes"`
	DualRes   float64 `json:"dualRes"`
	Rho       float64 `json:"rho"`
}

// Details is the backend-specific record attached to every result.
type Details struct {
	StatusVal  int
	Iter       int
	RhoUpdates int
	// RhoEstimate is the last scalar rho used.
	RhoEstimate float64
	PrimalRes   float64
	DualRes     float64
	SetupTime   time.Duration
	SolveTime   time.Duration
	PolishTime  time.Duration
	Polished    bool
	// Y holds the dual vector, or the primal infeasibility certificate.
	Y     []float64
	Trace []TraceEntry
}

// SolverID implements solver.SolverDetails.
func (Details) SolverID() options.SolverID { return ID }

// RawStatus implements solver.SolverDetails.
func (d Details) RawStatus() int { return d.StatusVal }
