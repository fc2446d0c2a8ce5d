// Package mayfly is a heuristic backend that minimizes the QP cost plus a
// quadratic constraint-violation penalty with the Mayfly metaheuristic over a
// fixed search box. It cannot prove infeasibility or unboundedness.
package mayfly

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/cwbudde/qpbridge/internal/assemble"
	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/solver"
)

// ID is the solver identity of this backend.
const ID options.SolverID = "mayfly"

// Raw status codes.
const (
	StatusFeasible  = 1
	StatusViolated  = 2
	StatusFailed    = 3
	StatusBoxActive = 4
)

// boxTolerance is the distance to the search box, relative to its width, at
// which a coordinate counts as stopped by the box.
const boxTolerance = 1e-3

// A point resting on the search box is not a minimizer of the QP: the true
// minimizer lies outside the box or the cost is unbounded below.
var statusTable = solver.StatusTable{
	StatusFeasible:  solver.Success,
	StatusViolated:  solver.IterationLimitReached,
	StatusFailed:    solver.SolverError,
	StatusBoxActive: solver.IterationLimitReached,
}

var knownOptions = []string{"max_iter", "pop_size", "seed", "lower_bound", "upper_bound", "penalty", "feasibility_tol"}

// Details is the backend-specific record attached to every result.
type Details struct {
	StatusVal     int
	Iter          int
	MaxViolation  float64
	PenalizedCost float64
	// BoxActive counts coordinates within boxTolerance of the search box.
	BoxActive int
	Err       string
}

// SolverID implements solver.SolverDetails.
func (Details) SolverID() options.SolverID { return ID }

// RawStatus implements solver.SolverDetails.
func (d Details) RawStatus() int { return d.StatusVal }

type settings struct {
	maxIter        int
	popSize        int
	seed           int64
	lower, upper   float64
	penalty        float64
	feasibilityTol float64
}

func settingsFrom(v options.Values) (settings, error) {
	s := settings{maxIter: 100, popSize: 20, seed: 42, lower: -10, upper: 10, penalty: 1e6, feasibilityTol: 1e-4}
	var errs []error
	var err error
	var seed int
	s.maxIter, err = v.Int("max_iter", s.maxIter)
	errs = append(errs, err)
	s.popSize, err = v.Int("pop_size", s.popSize)
	errs = append(errs, err)
	seed, err = v.Int("seed", int(s.seed))
	errs = append(errs, err)
	s.seed = int64(seed)
	s.lower, err = v.Float("lower_bound", s.lower)
	errs = append(errs, err)
	s.upper, err = v.Float("upper_bound", s.upper)
	errs = append(errs, err)
	s.penalty, err = v.Float("penalty", s.penalty)
	errs = append(errs, err)
	s.feasibilityTol, err = v.Float("feasibility_tol", s.feasibilityTol)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return s, err
	}

	switch {
	case s.maxIter <= 0:
		return s, errors.New("max_iter must be positive")
	case s.popSize < 20:
		// the library rejects smaller populations
		return s, errors.New("pop_size must be at least 20")
	case !(s.lower < s.upper):
		return s, errors.New("lower_bound must be below upper_bound")
	case s.penalty <= 0:
		return s, errors.New("penalty must be positive")
	case s.feasibilityTol < 0:
		return s, errors.New("feasibility_tol must not be negative")
	}
	return s, nil
}

// Backend implements solver.Backend.
type Backend struct {
	factory Factory
}

// New creates the backend around the Mayfly library.
func New() *Backend {
	return &Backend{factory: NewAdapter}
}

// NewWithFactory creates the backend around a custom optimizer.
func NewWithFactory(f Factory) *Backend {
	return &Backend{factory: f}
}

func (b *Backend) ID() options.SolverID { return ID }

func (b *Backend) Available() bool { return b.factory != nil }

func (b *Backend) KnownOptions() []string { return slices.Clone(knownOptions) }

func (b *Backend) StatusTable() solver.StatusTable { return statusTable }

func (b *Backend) Setup(qp *assemble.QP, opts options.Values) (solver.Instance, error) {
	s, err := settingsFrom(opts)
	if err != nil {
		return nil, err
	}
	return &instance{
		qp:      qp,
		l:       slices.Clone(qp.L),
		u:       slices.Clone(qp.U),
		set:     s,
		factory: b.factory,
	}, nil
}

type instance struct {
	qp      *assemble.QP
	l, u    []float64
	set     settings
	factory Factory
}

func (in *instance) UpdateBounds(l, u []float64) error {
	if len(l) != in.qp.M || len(u) != in.qp.M {
		return fmt.Errorf("bounds have length %d/%d, want %d", len(l), len(u), in.qp.M)
	}
	in.l, in.u = slices.Clone(l), slices.Clone(u)
	return nil
}

// violation returns Σ max(0, l-Ax, Ax-u)² and the largest single violation.
func (in *instance) violation(x []float64) (sum, worst float64) {
	ax := make([]float64, in.qp.M)
	in.qp.A.MulVec(ax, x)
	for i, v := range ax {
		d := math.Max(0, math.Max(in.l[i]-v, v-in.u[i]))
		sum += d * d
		worst = math.Max(worst, d)
	}
	return sum, worst
}

// boxActive returns how many coordinates of x lie on the search box.
func (in *instance) boxActive(x []float64) int {
	tol := boxTolerance * (in.set.upper - in.set.lower)
	n := 0
	for _, v := range x {
		if v-in.set.lower <= tol || in.set.upper-v <= tol {
			n++
		}
	}
	return n
}

// Solve ignores the initial guess; the population is drawn from the search box.
func (in *instance) Solve(_ []float64) (solver.Raw, error) {
	start := time.Now()
	n := in.qp.N
	d := Details{Iter: in.set.maxIter}

	if n == 0 {
		_, worst := in.violation(nil)
		d.MaxViolation = worst
		d.StatusVal = StatusFeasible
		if worst > in.set.feasibilityTol {
			d.StatusVal = StatusViolated
		}
		return solver.Raw{Status: d.StatusVal, X: []float64{}, HasObjective: true,
			SolveTime: time.Since(start), Details: d}, nil
	}

	eval := func(x []float64) float64 {
		sum, _ := in.violation(x)
		return in.qp.QuadraticPart(x) + in.set.penalty*sum
	}
	lower := slices.Repeat([]float64{in.set.lower}, n)
	upper := slices.Repeat([]float64{in.set.upper}, n)

	opt := in.factory(in.set.maxIter, in.set.popSize, in.set.seed)
	best, cost, err := opt.Run(eval, lower, upper, n)
	if err != nil || len(best) != n {
		d.StatusVal = StatusFailed
		if err != nil {
			d.Err = err.Error()
		}
		return solver.Raw{Status: StatusFailed, Iterations: in.set.maxIter,
			SolveTime: time.Since(start), Details: d}, nil
	}

	_, worst := in.violation(best)
	d.MaxViolation = worst
	d.PenalizedCost = cost
	d.BoxActive = in.boxActive(best)
	switch {
	case d.BoxActive > 0:
		d.StatusVal = StatusBoxActive
	case worst > in.set.feasibilityTol:
		d.StatusVal = StatusViolated
	default:
		d.StatusVal = StatusFeasible
	}
	return solver.Raw{
		Status:       d.StatusVal,
		Iterations:   in.set.maxIter,
		X:            slices.Clone(best),
		Objective:    in.qp.QuadraticPart(best),
		HasObjective: true,
		SolveTime:    time.Since(start),
		Details:      d,
	}, nil
}
