package assemble

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Triplets collects (row, col, value) contributions. Repeated cells are
// summed when the matrix is compressed, never stored twice.
type Triplets struct {
	rows, cols int
	entries    map[[2]int]float64
}

// NewTriplets starts an empty r×c builder.
func NewTriplets(r, c int) *Triplets {
	return &Triplets{rows: r, cols: c, entries: make(map[[2]int]float64)}
}

// Add accumulates v into cell (i, j).
func (t *Triplets) Add(i, j int, v float64) {
	if i < 0 || i >= t.rows || j < 0 || j >= t.cols {
		panic("assemble: triplet index out of range")
	}
	t.entries[[2]int{i, j}] += v
}

// Len returns the number of distinct cells touched.
func (t *Triplets) Len() int { return len(t.entries) }

// CSC compresses the builder into column-major sparse form with row indices
// sorted within each column. Touched cells that sum to zero are kept so the
// sparsity pattern depends only on which variables appear, not on values.
func (t *Triplets) CSC() *CSC {
	keys := make([][2]int, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a][1] != keys[b][1] {
			return keys[a][1] < keys[b][1]
		}
		return keys[a][0] < keys[b][0]
	})

	m := &CSC{
		Rows:   t.rows,
		Cols:   t.cols,
		ColPtr: make([]int, t.cols+1),
		RowIdx: make([]int, len(keys)),
		Values: make([]float64, len(keys)),
	}
	for n, k := range keys {
		m.ColPtr[k[1]+1]++
		m.RowIdx[n] = k[0]
		m.Values[n] = t.entries[k]
	}
	for j := 0; j < t.cols; j++ {
		m.ColPtr[j+1] += m.ColPtr[j]
	}
	return m
}

// CSC is a compressed sparse column matrix.
type CSC struct {
	Rows, Cols int
	ColPtr     []int
	RowIdx     []int
	Values     []float64
}

// NNZ returns the number of stored entries.
func (m *CSC) NNZ() int { return len(m.Values) }

// At returns the value at (i, j), zero when not stored.
func (m *CSC) At(i, j int) float64 {
	lo, hi := m.ColPtr[j], m.ColPtr[j+1]
	k := sort.SearchInts(m.RowIdx[lo:hi], i)
	if lo+k < hi && m.RowIdx[lo+k] == i {
		return m.Values[lo+k]
	}
	return 0
}

// MulVec computes dst = m·x. dst must have length Rows.
func (m *CSC) MulVec(dst, x []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for j := 0; j < m.Cols; j++ {
		xj := x[j]
		if xj == 0 {
			continue
		}
		for k := m.ColPtr[j]; k < m.ColPtr[j+1]; k++ {
			dst[m.RowIdx[k]] += m.Values[k] * xj
		}
	}
}

// MulTransVec computes dst = mᵀ·y. dst must have length Cols.
func (m *CSC) MulTransVec(dst, y []float64) {
	for j := 0; j < m.Cols; j++ {
		var s float64
		for k := m.ColPtr[j]; k < m.ColPtr[j+1]; k++ {
			s += m.Values[k] * y[m.RowIdx[k]]
		}
		dst[j] = s
	}
}

// SamePattern reports whether m and o have identical shape and sparsity.
func (m *CSC) SamePattern(o *CSC) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols || len(m.RowIdx) != len(o.RowIdx) {
		return false
	}
	for j := range m.ColPtr {
		if m.ColPtr[j] != o.ColPtr[j] {
			return false
		}
	}
	for k := range m.RowIdx {
		if m.RowIdx[k] != o.RowIdx[k] {
			return false
		}
	}
	return true
}

// Equal reports whether m and o have the same pattern and values.
func (m *CSC) Equal(o *CSC) bool {
	if !m.SamePattern(o) {
		return false
	}
	for k := range m.Values {
		if m.Values[k] != o.Values[k] {
			return false
		}
	}
	return true
}

// Dense expands the matrix. A matrix with a zero dimension yields nil.
func (m *CSC) Dense() *mat.Dense {
	if m.Rows == 0 || m.Cols == 0 {
		return nil
	}
	d := mat.NewDense(m.Rows, m.Cols, nil)
	for j := 0; j < m.Cols; j++ {
		for k := m.ColPtr[j]; k < m.ColPtr[j+1]; k++ {
			d.Set(m.RowIdx[k], j, m.Values[k])
		}
	}
	return d
}
