package assemble

import (
	"fmt"

	"github.com/cwbudde/qpbridge/internal/program"
)

// QP is the assembled problem data.
type QP struct {
	N, M     int
	P        *CSC // full symmetric N×N
	Q        []float64
	Constant float64
	A        *CSC // M×N, one row per constraint in declaration order
	L, U     []float64
	Index    *Index
}

// AggregateCost folds every cost of prob into (P, q, c).
//
// The cost is ½ xᵀPx, so a diagonal term coeff·xᵢ² adds 2·coeff to P[i][i]
// and an off-diagonal term coeff·xᵢxⱼ adds coeff to both P[i][j] and P[j][i].
func AggregateCost(prob *program.Problem, ix *Index) (*CSC, []float64, float64, error) {
	n := ix.Len()
	p := NewTriplets(n, n)
	q := make([]float64, n)
	var c float64

	addLinear := func(terms []program.Term) error {
		for _, t := range terms {
			j, err := ix.IndexOf(t.Var)
			if err != nil {
				return err
			}
			q[j] += t.Coeff
		}
		return nil
	}

	for k, cost := range prob.QuadraticCosts() {
		for _, t := range cost.Quad {
			i, err := ix.IndexOf(t.Var1)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("quadratic cost %d: %w", k, err)
			}
			j, err := ix.IndexOf(t.Var2)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("quadratic cost %d: %w", k, err)
			}
			if i == j {
				p.Add(i, i, 2*t.Coeff)
				continue
			}
			p.Add(i, j, t.Coeff)
			p.Add(j, i, t.Coeff)
		}
		if err := addLinear(cost.Linear); err != nil {
			return nil, nil, 0, fmt.Errorf("quadratic cost %d: %w", k, err)
		}
		c += cost.Constant
	}

	for k, cost := range prob.LinearCosts() {
		if err := addLinear(cost.Terms); err != nil {
			return nil, nil, 0, fmt.Errorf("linear cost %d: %w", k, err)
		}
		c += cost.Constant
	}

	return p.CSC(), q, c, nil
}

// AggregateConstraints stacks the constraints of prob into (A, l, u), one row
// each, in declaration order. Repeated variables within a row are summed.
func AggregateConstraints(prob *program.Problem, ix *Index) (*CSC, []float64, []float64, error) {
	rows := prob.Constraints()
	a := NewTriplets(len(rows), ix.Len())
	l := make([]float64, len(rows))
	u := make([]float64, len(rows))

	for r, row := range rows {
		for _, t := range row.Terms {
			j, err := ix.IndexOf(t.Var)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("constraint %d: %w", r, err)
			}
			a.Add(r, j, t.Coeff)
		}
		l[r], u[r] = row.Lower, row.Upper
	}
	return a.CSC(), l, u, nil
}

// Assemble indexes the variables of prob and builds its QP data.
func Assemble(prob *program.Problem) (*QP, error) {
	ix := NewIndex(prob)
	p, q, c, err := AggregateCost(prob, ix)
	if err != nil {
		return nil, err
	}
	a, l, u, err := AggregateConstraints(prob, ix)
	if err != nil {
		return nil, err
	}
	return &QP{
		N:        ix.Len(),
		M:        len(l),
		P:        p,
		Q:        q,
		Constant: c,
		A:        a,
		L:        l,
		U:        u,
		Index:    ix,
	}, nil
}

// Objective evaluates ½ xᵀPx + qᵀx + c.
func (qp *QP) Objective(x []float64) float64 {
	return qp.QuadraticPart(x) + qp.Constant
}

// QuadraticPart evaluates ½ xᵀPx + qᵀx, the part of the cost a backend reports.
func (qp *QP) QuadraticPart(x []float64) float64 {
	px := make([]float64, qp.N)
	qp.P.MulVec(px, x)
	var s float64
	for i, xi := range x {
		s += 0.5*xi*px[i] + qp.Q[i]*xi
	}
	return s
}

// SameStructure reports whether o differs from qp at most in l and u.
func (qp *QP) SameStructure(o *QP) bool {
	if o == nil || qp.N != o.N || qp.M != o.M || qp.Constant != o.Constant {
		return false
	}
	if !qp.P.Equal(o.P) || !qp.A.Equal(o.A) {
		return false
	}
	for i := range qp.Q {
		if qp.Q[i] != o.Q[i] {
			return false
		}
	}
	return true
}
