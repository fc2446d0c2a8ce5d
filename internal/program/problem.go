// Package program models a solver-agnostic quadratic program: decision
// variables, cost terms and linear constraints, all already in coefficient form.
package program

import (
	"fmt"
	"math"
	"slices"

	"github.com/cwbudde/qpbridge/internal/options"
)

// Problem owns the declared variables, the cost list and the constraint list.
// Costs and constraints are append-only; a Problem may be solved any number of
// times and may grow between solves. Problem is not safe for concurrent mutation.
type Problem struct {
	serial      uint64
	vars        []Variable
	quadCosts   []QuadraticCost
	linCosts    []LinearCost
	constraints []LinearConstraint
	solverOpts  options.Set
}

// New creates an empty problem.
func New() *Problem {
	return &Problem{serial: problemSerial.Add(1)}
}

// NewContinuousVariables declares n variables named name(0) .. name(n-1).
// An empty name yields x<id>.
func (p *Problem) NewContinuousVariables(n int, name string) []Variable {
	out := make([]Variable, n)
	for i := range out {
		v := Variable{owner: p.serial, id: len(p.vars)}
		if name != "" {
			v.name = fmt.Sprintf("%s(%d)", name, i)
		}
		p.vars = append(p.vars, v)
		out[i] = v
	}
	return out
}

// NewVariable declares a single named variable.
func (p *Problem) NewVariable(name string) Variable {
	v := Variable{owner: p.serial, id: len(p.vars), name: name}
	p.vars = append(p.vars, v)
	return v
}

// NumVars returns the number of declared variables.
func (p *Problem) NumVars() int { return len(p.vars) }

// Variables returns the declared variables in declaration order.
func (p *Problem) Variables() []Variable { return slices.Clone(p.vars) }

// Owns reports whether v was declared on this problem.
func (p *Problem) Owns(v Variable) bool {
	return v.owner == p.serial && v.id >= 0 && v.id < len(p.vars)
}

func (p *Problem) checkTerms(terms []Term) error {
	for _, t := range terms {
		if !p.Owns(t.Var) {
			return &UnknownVariableError{Var: t.Var}
		}
	}
	return nil
}

// AddQuadraticCost appends a quadratic cost. Nothing is added on error.
func (p *Problem) AddQuadraticCost(c QuadraticCost) error {
	for _, q := range c.Quad {
		if !p.Owns(q.Var1) {
			return &UnknownVariableError{Var: q.Var1}
		}
		if !p.Owns(q.Var2) {
			return &UnknownVariableError{Var: q.Var2}
		}
	}
	if err := p.checkTerms(c.Linear); err != nil {
		return err
	}
	p.quadCosts = append(p.quadCosts, QuadraticCost{
		Quad:     slices.Clone(c.Quad),
		Linear:   slices.Clone(c.Linear),
		Constant: c.Constant,
	})
	return nil
}

// AddLinearCost appends a linear cost. Nothing is added on error.
func (p *Problem) AddLinearCost(c LinearCost) error {
	if err := p.checkTerms(c.Terms); err != nil {
		return err
	}
	p.linCosts = append(p.linCosts, LinearCost{Terms: slices.Clone(c.Terms), Constant: c.Constant})
	return nil
}

// AddLinearConstraint appends the row lower ≤ Σ coeff·x ≤ upper.
// Infinite bounds are allowed; lower > upper or NaN bounds fail with ErrInvalidBounds.
func (p *Problem) AddLinearConstraint(terms []Term, lower, upper float64) error {
	if err := checkBounds(lower, upper); err != nil {
		return err
	}
	if err := p.checkTerms(terms); err != nil {
		return err
	}
	p.constraints = append(p.constraints, LinearConstraint{
		Terms: slices.Clone(terms),
		Lower: lower,
		Upper: upper,
	})
	return nil
}

// SetConstraintBounds replaces the bounds of constraint i, keeping its terms.
// A later solve with unchanged costs and options reuses the backend instance.
func (p *Problem) SetConstraintBounds(i int, lower, upper float64) error {
	if i < 0 || i >= len(p.constraints) {
		return fmt.Errorf("constraint %d out of range [0, %d)", i, len(p.constraints))
	}
	if err := checkBounds(lower, upper); err != nil {
		return err
	}
	p.constraints[i].Lower, p.constraints[i].Upper = lower, upper
	return nil
}

func checkBounds(lower, upper float64) error {
	switch {
	case math.IsNaN(lower) || math.IsNaN(upper):
		return fmt.Errorf("%w: NaN bound", ErrInvalidBounds)
	case lower > upper:
		return fmt.Errorf("%w: lower %g > upper %g", ErrInvalidBounds, lower, upper)
	case math.IsInf(lower, 1) || math.IsInf(upper, -1):
		return fmt.Errorf("%w: empty interval [%g, %g]", ErrInvalidBounds, lower, upper)
	}
	return nil
}

// AddExprConstraint constrains an affine expression, moving its constant to the bounds.
func (p *Problem) AddExprConstraint(e LinearExpr, lower, upper float64) error {
	return p.AddLinearConstraint(e.Terms, lower-e.Constant, upper-e.Constant)
}

// AddLinearEqualityConstraint appends Σ coeff·x == rhs.
func (p *Problem) AddLinearEqualityConstraint(terms []Term, rhs float64) error {
	return p.AddLinearConstraint(terms, rhs, rhs)
}

// AddBoundingBox constrains lower ≤ v ≤ upper as a single-nonzero row.
func (p *Problem) AddBoundingBox(v Variable, lower, upper float64) error {
	return p.AddLinearConstraint([]Term{{Var: v, Coeff: 1}}, lower, upper)
}

// QuadraticCosts returns the quadratic costs in declaration order.
func (p *Problem) QuadraticCosts() []QuadraticCost { return p.quadCosts }

// LinearCosts returns the linear costs in declaration order.
func (p *Problem) LinearCosts() []LinearCost { return p.linCosts }

// Constraints returns the linear constraints in declaration order.
func (p *Problem) Constraints() []LinearConstraint { return p.constraints }

// SetSolverOption stores a solver-scoped option that applies to every solve
// of this problem with backend id, unless overridden for a single call.
func (p *Problem) SetSolverOption(id options.SolverID, name string, value any) {
	p.solverOpts.Put(id, name, value)
}

// SolverOptions returns a copy of the solver-scoped options.
func (p *Problem) SolverOptions() options.Set {
	return p.solverOpts.Clone()
}
