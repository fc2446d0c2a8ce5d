package solver

import (
	"math"

	"github.com/cwbudde/qpbridge/internal/assemble"
	"github.com/cwbudde/qpbridge/internal/options"
)

// costTolerance bounds the relative disagreement between the reconstructed
// and the backend-reported cost before it is recorded as a mismatch.
const costTolerance = 1e-6

// MapResult classifies raw with table and builds the uniform Result.
// The optimal cost on success is recomputed from qp, never copied from the backend.
func MapResult(id options.SolverID, table StatusTable, raw Raw, qp *assemble.QP) *Result {
	res := &Result{
		solverID:   id,
		status:     table.Classify(raw.Status),
		rawStatus:  raw.Status,
		iterations: raw.Iterations,
		solveTime:  raw.SolveTime,
		details:    raw.Details,
		x:          make([]float64, qp.N),
	}

	haveX := len(raw.X) == qp.N
	if haveX {
		copy(res.x, raw.X)
	}

	switch res.status {
	case Success:
		if !haveX {
			// A backend claiming success without a primal vector is broken.
			res.status = SolverError
			res.cost = math.NaN()
			fillNaN(res.x)
			return res
		}
		res.cost = qp.Objective(res.x)
		if raw.HasObjective {
			reported := raw.Objective + qp.Constant
			if math.Abs(reported-res.cost) > costTolerance*math.Max(1, math.Abs(res.cost)) {
				res.mismatch = &CostMismatch{Reconstructed: res.cost, Reported: reported}
			}
		}
	case PrimalInfeasible:
		res.cost = InfeasibleCost
		fillNaN(res.x)
	case DualInfeasible:
		res.cost = UnboundedCost
		if !haveX {
			fillNaN(res.x)
		}
	default:
		res.cost = math.NaN()
		if !haveX {
			fillNaN(res.x)
		}
	}
	return res
}

func fillNaN(x []float64) {
	for i := range x {
		x[i] = math.NaN()
	}
}
