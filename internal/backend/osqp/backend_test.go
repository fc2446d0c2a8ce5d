package osqp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/qpbridge/internal/options"
	"github.com/cwbudde/qpbridge/internal/program"
	"github.com/cwbudde/qpbridge/internal/solver"
)

func solution(t *testing.T, res *solver.Result, v program.Variable) float64 {
	t.Helper()
	x, err := res.Solution(v)
	require.NoError(t, err)
	return x
}

func TestUnconstrainedQP(t *testing.T) {
	const tol = 1e-9
	s := solver.New(New())
	prob := program.New()
	x := prob.NewContinuousVariables(3, "x")

	require.NoError(t, prob.AddQuadraticCost(program.QuadraticCost{Quad: []program.QuadTerm{program.Q(1, x[0], x[0])}}))
	res, err := s.Solve(prob, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.InDelta(t, 0, solution(t, res, x[0]), tol)
	assert.InDelta(t, 0, res.OptimalCost(), tol)

	// (x1 + x2 - 2)²
	require.NoError(t, prob.AddQuadraticCost(program.Square(program.Expr(-2, program.T(1, x[1]), program.T(1, x[2])))))
	res, err = s.Solve(prob, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.InDelta(t, 0, solution(t, res, x[0]), tol)
	assert.InDelta(t, 2, solution(t, res, x[1])+solution(t, res, x[2]), tol)
	assert.InDelta(t, 0, res.OptimalCost(), tol)

	// Now the cost is (x0 + 2)² + (x1 + x2 - 2)² + 1
	require.NoError(t, prob.AddLinearCost(program.LinearCost{Terms: []program.Term{program.T(4, x[0])}, Constant: 5}))
	res, err = s.Solve(prob, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.InDelta(t, -2, solution(t, res, x[0]), tol)
	assert.InDelta(t, 2, solution(t, res, x[1])+solution(t, res, x[2]), tol)
	assert.InDelta(t, 1, res.OptimalCost(), tol)
	assert.Nil(t, res.CostMismatch())

	d, err := solver.GetSolverDetails[Details](res)
	require.NoError(t, err)
	assert.Equal(t, StatusSolved, d.StatusVal)
	assert.Equal(t, res.Iterations(), d.Iter)
}

func TestUnbounded(t *testing.T) {
	s := solver.New(New())
	prob := program.New()
	x := prob.NewContinuousVariables(3, "")
	require.NoError(t, prob.AddQuadraticCost(program.QuadraticCost{
		Quad:   []program.QuadTerm{program.Q(1, x[0], x[0])},
		Linear: []program.Term{program.T(1, x[1])},
	}))

	res, err := s.Solve(prob, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, solver.DualInfeasible, res.Status())
	assert.True(t, math.IsInf(res.OptimalCost(), -1))

	require.NoError(t, prob.AddLinearEqualityConstraint([]program.Term{program.T(1, x[0]), program.T(2, x[2])}, 2))
	require.NoError(t, prob.AddLinearConstraint([]program.Term{program.T(1, x[0])}, 0, math.Inf(1)))
	res, err = s.Solve(prob, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, solver.DualInfeasible, res.Status())
	assert.Equal(t, solver.UnboundedCost, res.OptimalCost())

	// the certificate decreases x1
	assert.Less(t, solution(t, res, x[1]), 0.0)
}

func TestInfeasible(t *testing.T) {
	prob := program.New()
	x := prob.NewContinuousVariables(2, "")
	require.NoError(t, prob.AddQuadraticCost(program.QuadraticCost{Quad: []program.QuadTerm{
		program.Q(1, x[0], x[0]),
		program.Q(2, x[1], x[1]),
	}}))
	require.NoError(t, prob.AddLinearEqualityConstraint([]program.Term{program.T(1, x[0]), program.T(2, x[1])}, 2))
	require.NoError(t, prob.AddBoundingBox(x[0], 1, math.Inf(1)))
	require.NoError(t, prob.AddBoundingBox(x[1], 2, math.Inf(1)))

	res, err := solver.New(New()).Solve(prob, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, solver.PrimalInfeasible, res.Status())
	assert.Equal(t, solver.InfeasibleCost, res.OptimalCost())
	for _, v := range res.SolutionVector() {
		assert.True(t, math.IsNaN(v))
	}

	d, err := solver.GetSolverDetails[Details](res)
	require.NoError(t, err)
	assert.Contains(t, []int{StatusPrimalInfeasible, StatusPrimalInfeasibleInaccurate}, d.StatusVal)
	require.Len(t, d.Y, 3)
}

func optionsProblem(t *testing.T) *program.Problem {
	t.Helper()
	prob := program.New()
	x := prob.NewContinuousVariables(3, "")
	require.NoError(t, prob.AddLinearConstraint(
		[]program.Term{program.T(1, x[0]), program.T(2, x[1]), program.T(-3, x[2])}, math.Inf(-1), 3))
	require.NoError(t, prob.AddLinearConstraint(
		[]program.Term{program.T(4, x[0]), program.T(-2, x[1]), program.T(-6, x[2])}, -3, math.Inf(1)))
	require.NoError(t, prob.AddQuadraticCost(program.QuadraticCost{Quad: []program.QuadTerm{
		program.Q(1, x[0], x[0]),
		program.Q(2, x[1], x[1]),
		program.Q(5, x[2], x[2]),
		program.Q(2, x[1], x[2]),
	}}))
	require.NoError(t, prob.AddLinearEqualityConstraint([]program.Term{program.T(8, x[0]), program.T(-1, x[1])}, 2))
	return prob
}

func TestIterationCapScopes(t *testing.T) {
	// Checking every iteration makes the first converged iterate exact, so any
	// smaller cap stops strictly before convergence.
	var global options.Set
	global.Put(ID, "check_termination", 1)
	s := solver.New(New(), solver.WithDefaults(global))

	prob := optionsProblem(t)
	res, err := s.Solve(prob, nil, nil)
	require.NoError(t, err)
	d, err := solver.GetSolverDetails[Details](res)
	require.NoError(t, err)
	require.Equal(t, StatusSolved, d.StatusVal)
	half := d.Iter / 2
	require.Positive(t, half)

	var call options.Set
	call.Put(ID, "max_iter", half)
	res, err = s.Solve(prob, nil, call)
	require.NoError(t, err)
	d, err = solver.GetSolverDetails[Details](res)
	require.NoError(t, err)
	assert.NotEqual(t, StatusSolved, d.StatusVal)
	assert.Equal(t, solver.IterationLimitReached, res.Status())
	assert.True(t, math.IsNaN(res.OptimalCost()))
	assert.Equal(t, half, res.Iterations())

	// the call-scoped cap does not leak into later solves
	res, err = s.Solve(optionsProblem(t), nil, nil)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())

	prob.SetSolverOption(ID, "max_iter", half)
	res, err = s.Solve(prob, nil, nil)
	require.NoError(t, err)
	d, err = solver.GetSolverDetails[Details](res)
	require.NoError(t, err)
	assert.NotEqual(t, StatusSolved, d.StatusVal)
	assert.False(t, res.IsSuccess())
}

func TestIterationCapScopesDefaultSettings(t *testing.T) {
	s := solver.New(New())
	every := DefaultSettings().CheckTermination

	prob := optionsProblem(t)
	res, err := s.Solve(prob, nil, nil)
	require.NoError(t, err)
	d, err := solver.GetSolverDetails[Details](res)
	require.NoError(t, err)
	require.Equal(t, StatusSolved, d.StatusVal)
	// the previous termination check did not converge
	capped := d.Iter - every
	require.Positive(t, capped)

	var call options.Set
	call.Put(ID, "max_iter", capped)
	res, err = s.Solve(prob, nil, call)
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIterReached, res.RawStatus())
	assert.Equal(t, solver.IterationLimitReached, res.Status())
	assert.True(t, math.IsNaN(res.OptimalCost()))
	assert.Equal(t, capped, res.Iterations())

	res, err = s.Solve(optionsProblem(t), nil, nil)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())

	prob.SetSolverOption(ID, "max_iter", capped)
	res, err = s.Solve(prob, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIterReached, res.RawStatus())
	assert.False(t, res.IsSuccess())
}

func TestUnknownOptionFailsBeforeDispatch(t *testing.T) {
	prob := optionsProblem(t)
	var call options.Set
	call.Put(ID, "max_iterations", 10)
	call.Put("gurobi", "Presolve", 0)

	res, err := solver.New(New()).Solve(prob, nil, call)
	require.ErrorIs(t, err, options.ErrUnrecognizedOption)
	assert.Nil(t, res)
}

func TestInvalidOptionValue(t *testing.T) {
	prob := optionsProblem(t)
	var call options.Set
	call.Put(ID, "alpha", 3.0)

	res, err := solver.New(New()).Solve(prob, nil, call)
	require.ErrorIs(t, err, solver.ErrSolverFailure)
	require.NotNil(t, res)
	assert.Equal(t, solver.SolverError, res.Status())
}

func TestQuadraticCostGradientVanishes(t *testing.T) {
	prob := program.New()
	x := prob.NewContinuousVariables(3, "x")
	// P = [[4,1,0],[1,6,2],[0,2,8]], q = [1,-2,3]
	require.NoError(t, prob.AddQuadraticCost(program.QuadraticCost{
		Quad: []program.QuadTerm{
			program.Q(2, x[0], x[0]),
			program.Q(3, x[1], x[1]),
			program.Q(4, x[2], x[2]),
			program.Q(1, x[0], x[1]),
			program.Q(2, x[1], x[2]),
		},
		Linear: []program.Term{program.T(1, x[0]), program.T(-2, x[1]), program.T(3, x[2])},
	}))

	res, err := solver.New(New()).Solve(prob, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())

	v := res.SolutionVector()
	grad := []float64{
		4*v[0] + 1*v[1] + 1,
		1*v[0] + 6*v[1] + 2*v[2] - 2,
		2*v[1] + 8*v[2] + 3,
	}
	for i, g := range grad {
		assert.InDelta(t, 0, g, 1e-8, "gradient component %d", i)
	}
}

func TestBoundUpdateReusesInstance(t *testing.T) {
	prob := program.New()
	x := prob.NewVariable("x")
	require.NoError(t, prob.AddQuadraticCost(program.Square(program.Expr(-3, program.T(1, x)))))
	require.NoError(t, prob.AddBoundingBox(x, 0, 1))

	s := solver.New(New())
	res, err := s.Solve(prob, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.InDelta(t, 1, solution(t, res, x), 1e-6)
	assert.InDelta(t, 4, res.OptimalCost(), 1e-5)

	require.NoError(t, prob.SetConstraintBounds(0, 0, 2))
	res, err = s.Solve(prob, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.InDelta(t, 2, solution(t, res, x), 1e-6)
	assert.InDelta(t, 1, res.OptimalCost(), 1e-5)

	// switching the row to an equality refactors the kept instance
	require.NoError(t, prob.SetConstraintBounds(0, -1, -1))
	res, err = s.Solve(prob, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.InDelta(t, -1, solution(t, res, x), 1e-6)
	assert.InDelta(t, 16, res.OptimalCost(), 1e-4)
}

func TestInitialGuess(t *testing.T) {
	prob := optionsProblem(t)

	res, err := solver.New(New()).Solve(prob, []float64{0.25, 0, 0}, nil)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())

	_, err = solver.New(New()).Solve(prob, []float64{1}, nil)
	require.ErrorIs(t, err, solver.ErrInitialGuess)
}

func TestEmptyProblem(t *testing.T) {
	prob := program.New()
	require.NoError(t, prob.AddLinearCost(program.LinearCost{Constant: 7}))

	res, err := solver.New(New()).Solve(prob, nil, nil)
	require.NoError(t, err)
	require.True(t, res.IsSuccess())
	assert.Equal(t, 7.0, res.OptimalCost())
	assert.Empty(t, res.SolutionVector())
}

func TestNonConvexIsSolverError(t *testing.T) {
	prob := program.New()
	x := prob.NewVariable("x")
	require.NoError(t, prob.AddQuadraticCost(program.QuadraticCost{Quad: []program.QuadTerm{program.Q(-1, x, x)}}))

	res, err := solver.New(New()).Solve(prob, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, solver.SolverError, res.Status())
	assert.Equal(t, StatusNonConvex, res.RawStatus())
}

func TestStatusTableCoversEveryCode(t *testing.T) {
	for _, code := range []int{
		StatusSolved, StatusSolvedInaccurate, StatusPrimalInfeasibleInaccurate,
		StatusDualInfeasibleInaccurate, StatusMaxIterReached, StatusPrimalInfeasible,
		StatusDualInfeasible, StatusTimeLimitReached, StatusNonConvex, StatusUnsolved,
	} {
		_, ok := statusTable[code]
		assert.True(t, ok, "code %d (%s)", code, StatusText(code))
	}
	assert.Equal(t, solver.SolverError, statusTable.Classify(99))
}
