// Package assemble turns a program.Problem into the canonical QP data
//
//	minimize ½ xᵀPx + qᵀx + c  subject to  l ≤ Ax ≤ u
//
// that a backend consumes. Assembly is pure and re-run from scratch on every solve.
package assemble

import (
	"github.com/cwbudde/qpbridge/internal/program"
)

// Index maps each declared variable to a dense column index in [0, N).
type Index struct {
	prob *program.Problem
	n    int
}

// NewIndex freezes the variable set of prob as it is now.
func NewIndex(prob *program.Problem) *Index {
	return &Index{prob: prob, n: prob.NumVars()}
}

// Len returns N, the number of indexed variables.
func (ix *Index) Len() int { return ix.n }

// IndexOf returns the column of v, or ErrUnknownVariable when v was not
// declared on this problem before the index was built.
func (ix *Index) IndexOf(v program.Variable) (int, error) {
	if !ix.prob.Owns(v) || v.ID() >= ix.n {
		return 0, &program.UnknownVariableError{Var: v}
	}
	return v.ID(), nil
}
