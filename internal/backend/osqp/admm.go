package osqp

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/qpbridge/internal/assemble"
	"github.com/cwbudde/qpbridge/internal/solver"
)

const (
	infinity    = 1e30
	divisionTol = 1e-20
	rhoMin      = 1e-6
	rhoMax      = 1e6
	rhoEqScale  = 1e3
	adaptEvery  = 25
)

type rowKind int8

const (
	rowIneq rowKind = iota
	rowEq
	rowFree
)

type entry struct {
	col int
	val float64
}

// workspace is one set-up problem instance. It is not safe for concurrent use.
type workspace struct {
	set  Settings
	log  logr.Logger
	n, m int

	p, a  *assemble.CSC
	aRows [][]entry
	q     []float64
	l, u  []float64
	kinds []rowKind

	rho    float64
	rhoVec []float64
	chol   mat.Cholesky
	convex bool

	setupTime  time.Duration
	rhoUpdates int

	// iterates
	x, z, y []float64
	dx, dy  []float64
	warm    bool

	// scratch
	rhs, xt, zt, tmpM []float64
	ax, px, aty       []float64
	rhsVec, xtVec     *mat.VecDense

	normAx, normZ, normPx, normAty, normQ float64
}

func newWorkspace(qp *assemble.QP, set Settings, log logr.Logger) (*workspace, error) {
	start := time.Now()
	n, m := qp.N, qp.M
	w := &workspace{
		set:    set,
		log:    log,
		n:      n,
		m:      m,
		p:      qp.P,
		a:      qp.A,
		aRows:  make([][]entry, m),
		q:      slices.Clone(qp.Q),
		l:      make([]float64, m),
		u:      make([]float64, m),
		kinds:  make([]rowKind, m),
		rho:    set.Rho,
		rhoVec: make([]float64, m),
		x:      make([]float64, n),
		z:      make([]float64, m),
		y:      make([]float64, m),
		dx:     make([]float64, n),
		dy:     make([]float64, m),
		rhs:    make([]float64, n),
		xt:     make([]float64, n),
		zt:     make([]float64, m),
		tmpM:   make([]float64, m),
		ax:     make([]float64, m),
		px:     make([]float64, n),
		aty:    make([]float64, n),
	}
	for j := 0; j < qp.A.Cols; j++ {
		for k := qp.A.ColPtr[j]; k < qp.A.ColPtr[j+1]; k++ {
			r := qp.A.RowIdx[k]
			w.aRows[r] = append(w.aRows[r], entry{col: j, val: qp.A.Values[k]})
		}
	}
	if err := w.setBounds(qp.L, qp.U); err != nil {
		return nil, err
	}
	if n > 0 {
		w.rhsVec = mat.NewVecDense(n, w.rhs)
		w.xtVec = mat.NewVecDense(n, w.xt)
	}
	w.setRhoVec()
	w.factor()
	w.normQ = floats.Norm(w.q, math.Inf(1))
	w.setupTime = time.Since(start)
	return w, nil
}

func (w *workspace) setBounds(l, u []float64) error {
	if len(l) != w.m || len(u) != w.m {
		return fmt.Errorf("bounds have length %d/%d, want %d", len(l), len(u), w.m)
	}
	for i := range l {
		lo, hi := l[i], u[i]
		if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
			return fmt.Errorf("row %d: invalid bounds [%g, %g]", i, lo, hi)
		}
		if lo <= -infinity {
			lo = math.Inf(-1)
		}
		if hi >= infinity {
			hi = math.Inf(1)
		}
		w.l[i], w.u[i] = lo, hi
		switch {
		case math.IsInf(lo, -1) && math.IsInf(hi, 1):
			w.kinds[i] = rowFree
		case lo == hi:
			w.kinds[i] = rowEq
		default:
			w.kinds[i] = rowIneq
		}
	}
	return nil
}

// UpdateBounds replaces l and u. The factorization is rebuilt only when a row
// changes between equality, inequality and free.
func (w *workspace) UpdateBounds(l, u []float64) error {
	before := slices.Clone(w.kinds)
	if err := w.setBounds(l, u); err != nil {
		return err
	}
	if !slices.Equal(before, w.kinds) {
		w.setRhoVec()
		w.factor()
	}
	return nil
}

func (w *workspace) setRhoVec() {
	for i, k := range w.kinds {
		switch k {
		case rowEq:
			w.rhoVec[i] = rhoEqScale * w.rho
		case rowFree:
			w.rhoVec[i] = rhoMin
		default:
			w.rhoVec[i] = w.rho
		}
	}
}

// factor builds K = P + σI + Aᵀ diag(ρ) A and its Cholesky factorization.
// A failed factorization means P is not positive semidefinite.
func (w *workspace) factor() {
	if w.n == 0 {
		w.convex = true
		return
	}
	k := mat.NewSymDense(w.n, nil)
	for j := 0; j < w.n; j++ {
		for idx := w.p.ColPtr[j]; idx < w.p.ColPtr[j+1]; idx++ {
			i := w.p.RowIdx[idx]
			if i <= j {
				k.SetSym(i, j, w.p.Values[idx])
			}
		}
		k.SetSym(j, j, k.At(j, j)+w.set.Sigma)
	}
	for r, row := range w.aRows {
		rr := w.rhoVec[r]
		for _, ei := range row {
			for _, ej := range row {
				if ei.col <= ej.col {
					k.SetSym(ei.col, ej.col, k.At(ei.col, ej.col)+rr*ei.val*ej.val)
				}
			}
		}
	}
	w.convex = w.chol.Factorize(k)
}

func (w *workspace) initIterates(guess []float64) {
	switch {
	case guess != nil:
		copy(w.x, guess)
		w.a.MulVec(w.z, w.x)
		project(w.z, w.l, w.u)
		if !(w.set.WarmStart && w.warm) {
			clear(w.y)
		}
	case w.set.WarmStart && w.warm:
	default:
		clear(w.x)
		clear(w.z)
		clear(w.y)
	}
	clear(w.dx)
	clear(w.dy)
}

// Solve runs ADMM until a termination criterion holds or a limit is hit.
func (w *workspace) Solve(guess []float64) (solver.Raw, error) {
	start := time.Now()
	if guess != nil && len(guess) != w.n {
		return solver.Raw{}, fmt.Errorf("initial guess has length %d, want %d", len(guess), w.n)
	}
	d := Details{SetupTime: w.setupTime}

	if w.n == 0 {
		return w.solveEmpty(d, start), nil
	}
	if !w.convex {
		d.StatusVal = StatusNonConvex
		d.SolveTime = time.Since(start)
		return solver.Raw{Status: StatusNonConvex, SolveTime: d.SolveTime, Details: d}, nil
	}

	w.initIterates(guess)
	rhoUpdatesBefore := w.rhoUpdates

	status := StatusUnsolved
	var prim, dual float64
	performed := 0
	timedOut := false
	for iter := 1; iter <= w.set.MaxIter; iter++ {
		if err := w.step(); err != nil {
			return solver.Raw{}, err
		}
		performed = iter

		checked := false
		if w.set.CheckTermination > 0 && iter%w.set.CheckTermination == 0 {
			prim, dual = w.residuals()
			checked = true
			d.Trace = append(d.Trace, TraceEntry{Iter: iter, PrimalRes: prim, DualRes: dual, Rho: w.rho})
			if w.set.Verbose {
				w.log.Info("ADMM progress", "iter", iter, "prim_res", prim, "dual_res", dual, "rho", w.rho)
			}
			if st, ok := w.terminated(prim, dual, 1); ok {
				status = st
				break
			}
		}
		if w.set.AdaptiveRho && w.m > 0 && iter%w.adaptInterval() == 0 {
			if !checked {
				prim, dual = w.residuals()
			}
			w.adaptRho(prim, dual)
		}
		if w.set.TimeLimit > 0 && time.Since(start) > w.set.TimeLimit {
			timedOut = true
			break
		}
	}

	if status == StatusUnsolved {
		prim, dual = w.residuals()
		if st, ok := w.terminated(prim, dual, 1); ok {
			status = st
		} else if st, ok := w.terminated(prim, dual, 10); ok {
			status = inaccurate(st)
		} else if timedOut {
			status = StatusTimeLimitReached
		} else {
			status = StatusMaxIterReached
		}
	}

	d.StatusVal = status
	d.Iter = performed
	d.PrimalRes, d.DualRes = prim, dual
	d.RhoUpdates = w.rhoUpdates - rhoUpdatesBefore
	d.RhoEstimate = w.rho

	raw := solver.Raw{Status: status, Iterations: performed}
	switch status {
	case StatusSolved, StatusSolvedInaccurate, StatusMaxIterReached, StatusTimeLimitReached:
		if status == StatusSolved && w.set.Polish {
			w.polish(&d, prim, dual)
		}
		raw.X = slices.Clone(w.x)
		raw.Y = slices.Clone(w.y)
		raw.Objective = w.objective(w.x)
		raw.HasObjective = true
		w.warm = status == StatusSolved
	case StatusPrimalInfeasible, StatusPrimalInfeasibleInaccurate:
		raw.Y = certificate(w.dy)
		w.warm = false
	case StatusDualInfeasible, StatusDualInfeasibleInaccurate:
		raw.X = certificate(w.dx)
		w.warm = false
	}
	d.Y = raw.Y
	d.SolveTime = time.Since(start)
	raw.SolveTime = d.SolveTime
	raw.Details = d
	return raw, nil
}

func (w *workspace) adaptInterval() int {
	if w.set.CheckTermination > 0 {
		return w.set.CheckTermination
	}
	return adaptEvery
}

// solveEmpty handles a problem without variables: every row reads 0 ∈ [l, u].
func (w *workspace) solveEmpty(d Details, start time.Time) solver.Raw {
	status := StatusSolved
	for i := range w.l {
		if w.l[i] > 0 || w.u[i] < 0 {
			status = StatusPrimalInfeasible
			break
		}
	}
	d.StatusVal = status
	d.SolveTime = time.Since(start)
	raw := solver.Raw{Status: status, SolveTime: d.SolveTime, Details: d}
	if status == StatusSolved {
		raw.X = []float64{}
		raw.HasObjective = true
	}
	return raw
}

// step performs one relaxed ADMM iteration.
func (w *workspace) step() error {
	for i := range w.tmpM {
		w.tmpM[i] = w.rhoVec[i]*w.z[i] - w.y[i]
	}
	w.a.MulTransVec(w.rhs, w.tmpM)
	for j := range w.rhs {
		w.rhs[j] += w.set.Sigma*w.x[j] - w.q[j]
	}
	if err := w.chol.SolveVecTo(w.xtVec, w.rhsVec); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("kkt solve: %w", err)
		}
	}
	w.a.MulVec(w.zt, w.xt)

	alpha := w.set.Alpha
	for j := range w.x {
		next := alpha*w.xt[j] + (1-alpha)*w.x[j]
		w.dx[j] = next - w.x[j]
		w.x[j] = next
	}
	for i := range w.z {
		relaxed := alpha*w.zt[i] + (1-alpha)*w.z[i]
		next := clamp(relaxed+w.y[i]/w.rhoVec[i], w.l[i], w.u[i])
		w.dy[i] = w.rhoVec[i] * (relaxed - next)
		w.y[i] += w.dy[i]
		w.z[i] = next
	}
	return nil
}

// residuals returns ‖Ax − z‖∞ and ‖Px + q + Aᵀy‖∞ and caches the norms
// used to scale the tolerances.
func (w *workspace) residuals() (prim, dual float64) {
	w.a.MulVec(w.ax, w.x)
	w.p.MulVec(w.px, w.x)
	w.a.MulTransVec(w.aty, w.y)

	for i := range w.ax {
		prim = math.Max(prim, math.Abs(w.ax[i]-w.z[i]))
	}
	for j := range w.px {
		dual = math.Max(dual, math.Abs(w.px[j]+w.q[j]+w.aty[j]))
	}
	inf := math.Inf(1)
	w.normAx = floats.Norm(w.ax, inf)
	w.normZ = floats.Norm(w.z, inf)
	w.normPx = floats.Norm(w.px, inf)
	w.normAty = floats.Norm(w.aty, inf)
	return prim, dual
}

// terminated checks convergence, then primal and dual infeasibility, with all
// tolerances multiplied by scale.
func (w *workspace) terminated(prim, dual, scale float64) (int, bool) {
	epsPrim := scale * (w.set.EpsAbs + w.set.EpsRel*math.Max(w.normAx, w.normZ))
	epsDual := scale * (w.set.EpsAbs + w.set.EpsRel*math.Max(w.normPx, math.Max(w.normAty, w.normQ)))
	if (w.m == 0 || prim <= epsPrim) && dual <= epsDual {
		return StatusSolved, true
	}
	if w.primalInfeasible(scale * w.set.EpsPrimInf) {
		return StatusPrimalInfeasible, true
	}
	if w.dualInfeasible(scale * w.set.EpsDualInf) {
		return StatusDualInfeasible, true
	}
	return 0, false
}

// primalInfeasible tests δy as a certificate: Aᵀδy ≈ 0 and uᵀδy₊ + lᵀδy₋ < 0.
func (w *workspace) primalInfeasible(eps float64) bool {
	if w.m == 0 {
		return false
	}
	dy := slices.Clone(w.dy)
	// project onto the polar of the recession cone of [l, u]
	for i := range dy {
		lInf, uInf := math.IsInf(w.l[i], -1), math.IsInf(w.u[i], 1)
		switch {
		case lInf && uInf:
			dy[i] = 0
		case uInf:
			dy[i] = math.Min(dy[i], 0)
		case lInf:
			dy[i] = math.Max(dy[i], 0)
		}
	}
	norm := floats.Norm(dy, math.Inf(1))
	if norm <= divisionTol {
		return false
	}
	var support float64
	for i, v := range dy {
		switch {
		case v > 0:
			support += w.u[i] * v
		case v < 0:
			support += w.l[i] * v
		}
	}
	if support >= -eps*norm {
		return false
	}
	atdy := make([]float64, w.n)
	w.a.MulTransVec(atdy, dy)
	return floats.Norm(atdy, math.Inf(1)) < eps*norm
}

// dualInfeasible tests δx as a certificate: Pδx ≈ 0, qᵀδx < 0 and Aδx in
// the recession cone of [l, u].
func (w *workspace) dualInfeasible(eps float64) bool {
	norm := floats.Norm(w.dx, math.Inf(1))
	if norm <= divisionTol {
		return false
	}
	if floats.Dot(w.q, w.dx) >= -eps*norm {
		return false
	}
	pdx := make([]float64, w.n)
	w.p.MulVec(pdx, w.dx)
	if floats.Norm(pdx, math.Inf(1)) >= eps*norm {
		return false
	}
	adx := make([]float64, w.m)
	w.a.MulVec(adx, w.dx)
	for i, v := range adx {
		if !math.IsInf(w.u[i], 1) && v > eps*norm {
			return false
		}
		if !math.IsInf(w.l[i], -1) && v < -eps*norm {
			return false
		}
	}
	return true
}

func (w *workspace) adaptRho(prim, dual float64) {
	primN := prim / (math.Max(w.normAx, w.normZ) + divisionTol)
	dualN := dual / (math.Max(w.normPx, math.Max(w.normAty, w.normQ)) + divisionTol)
	next := w.rho * math.Sqrt(primN/(dualN+divisionTol))
	next = math.Min(math.Max(next, rhoMin), rhoMax)
	if next > w.rho*w.set.AdaptiveRhoTolerance || next < w.rho/w.set.AdaptiveRhoTolerance {
		w.rho = next
		w.setRhoVec()
		w.factor()
		w.rhoUpdates++
	}
}

func (w *workspace) objective(x []float64) float64 {
	px := make([]float64, w.n)
	w.p.MulVec(px, x)
	return 0.5*floats.Dot(x, px) + floats.Dot(w.q, x)
}

func inaccurate(status int) int {
	switch status {
	case StatusSolved:
		return StatusSolvedInaccurate
	case StatusPrimalInfeasible:
		return StatusPrimalInfeasibleInaccurate
	case StatusDualInfeasible:
		return StatusDualInfeasibleInaccurate
	}
	return status
}

func certificate(v []float64) []float64 {
	out := slices.Clone(v)
	if norm := floats.Norm(out, math.Inf(1)); norm > divisionTol {
		floats.Scale(1/norm, out)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func project(z, l, u []float64) {
	for i := range z {
		z[i] = clamp(z[i], l[i], u[i])
	}
}
