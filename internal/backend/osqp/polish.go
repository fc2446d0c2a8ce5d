package osqp

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// polish guesses the active constraints from the ADMM iterate and solves the
// equality-constrained QP on that set, refining against the unregularized KKT
// system. The polished point replaces the iterate only when it improves the residuals.
func (w *workspace) polish(d *Details, prim, dual float64) {
	start := time.Now()
	defer func() { d.PolishTime = time.Since(start) }()

	type activeRow struct {
		row   int
		bound float64
	}
	var active []activeRow
	for i := 0; i < w.m; i++ {
		switch {
		case w.z[i]-w.l[i] < -w.y[i] && !math.IsInf(w.l[i], -1):
			active = append(active, activeRow{row: i, bound: w.l[i]})
		case w.u[i]-w.z[i] < w.y[i] && !math.IsInf(w.u[i], 1):
			active = append(active, activeRow{row: i, bound: w.u[i]})
		}
	}

	n, dim := w.n, w.n+len(active)
	regular := mat.NewDense(dim, dim, nil)
	exact := mat.NewDense(dim, dim, nil)
	set := func(i, j int, v float64) {
		regular.Set(i, j, regular.At(i, j)+v)
		exact.Set(i, j, exact.At(i, j)+v)
	}
	for j := 0; j < n; j++ {
		for k := w.p.ColPtr[j]; k < w.p.ColPtr[j+1]; k++ {
			set(w.p.RowIdx[k], j, w.p.Values[k])
		}
		regular.Set(j, j, regular.At(j, j)+w.set.Delta)
	}
	rhs := mat.NewVecDense(dim, nil)
	for j := 0; j < n; j++ {
		rhs.SetVec(j, -w.q[j])
	}
	for r, ar := range active {
		for _, e := range w.aRows[ar.row] {
			set(n+r, e.col, e.val)
			set(e.col, n+r, e.val)
		}
		regular.Set(n+r, n+r, -w.set.Delta)
		rhs.SetVec(n+r, ar.bound)
	}

	var lu mat.LU
	lu.Factorize(regular)
	sol := mat.NewVecDense(dim, nil)
	if !solveLU(&lu, sol, rhs) {
		return
	}
	res := mat.NewVecDense(dim, nil)
	corr := mat.NewVecDense(dim, nil)
	for k := 0; k < w.set.PolishRefineIter; k++ {
		res.MulVec(exact, sol)
		res.SubVec(rhs, res)
		if !solveLU(&lu, corr, res) {
			return
		}
		sol.AddVec(sol, corr)
	}

	xPol := make([]float64, n)
	for j := range xPol {
		xPol[j] = sol.AtVec(j)
	}
	yPol := make([]float64, w.m)
	for r, ar := range active {
		yPol[ar.row] = sol.AtVec(n + r)
	}
	zPol := make([]float64, w.m)
	w.a.MulVec(zPol, xPol)

	var primPol float64
	for i, v := range zPol {
		proj := clamp(v, w.l[i], w.u[i])
		primPol = math.Max(primPol, math.Abs(v-proj))
		zPol[i] = proj
	}
	px := make([]float64, n)
	aty := make([]float64, n)
	w.p.MulVec(px, xPol)
	w.a.MulTransVec(aty, yPol)
	var dualPol float64
	for j := range px {
		dualPol = math.Max(dualPol, math.Abs(px[j]+w.q[j]+aty[j]))
	}
	if math.IsNaN(primPol) || math.IsNaN(dualPol) {
		return
	}

	const tiny = 1e-10
	improved := (primPol < prim && dualPol < dual) ||
		(primPol < prim && dual < tiny) ||
		(dualPol < dual && prim < tiny)
	if !improved {
		return
	}
	copy(w.x, xPol)
	copy(w.z, zPol)
	copy(w.y, yPol)
	d.Polished = true
	d.PrimalRes, d.DualRes = primPol, dualPol
}

func solveLU(lu *mat.LU, dst *mat.VecDense, b mat.Vector) bool {
	err := lu.SolveVecTo(dst, false, b)
	if err == nil {
		return true
	}
	var cond mat.Condition
	return errors.As(err, &cond) && !math.IsInf(float64(cond), 1)
}
