package program

// Term is a linear contribution Coeff * Var.
type Term struct {
	Var   Variable
	Coeff float64
}

// QuadTerm is a bilinear contribution Coeff * Var1 * Var2. Var1 may equal Var2.
type QuadTerm struct {
	Var1, Var2 Variable
	Coeff      float64
}

// LinearExpr is an affine expression Σ coeff·x + Constant.
type LinearExpr struct {
	Terms    []Term
	Constant float64
}

// Expr builds a LinearExpr from alternating terms.
//
//	program.Expr(-2, program.T(1, x[1]), program.T(1, x[2])) // x1 + x2 - 2
func Expr(constant float64, terms ...Term) LinearExpr {
	return LinearExpr{Terms: terms, Constant: constant}
}

// T is shorthand for Term{Var: v, Coeff: coeff}.
func T(coeff float64, v Variable) Term {
	return Term{Var: v, Coeff: coeff}
}

// Q is shorthand for QuadTerm{Var1: a, Var2: b, Coeff: coeff}.
func Q(coeff float64, a, b Variable) QuadTerm {
	return QuadTerm{Var1: a, Var2: b, Coeff: coeff}
}

// QuadraticCost is Σ quad + Σ linear + Constant.
type QuadraticCost struct {
	Quad     []QuadTerm
	Linear   []Term
	Constant float64
}

// LinearCost is Σ coeff·x + Constant.
type LinearCost struct {
	Terms    []Term
	Constant float64
}

// Square expands (Σ aᵢxᵢ + c)² into coefficient form.
// Cross terms aᵢaⱼxᵢxⱼ (i < j) are emitted once with a doubled coefficient.
func Square(e LinearExpr) QuadraticCost {
	var cost QuadraticCost
	for i, ti := range e.Terms {
		cost.Quad = append(cost.Quad, QuadTerm{Var1: ti.Var, Var2: ti.Var, Coeff: ti.Coeff * ti.Coeff})
		for _, tj := range e.Terms[i+1:] {
			cost.Quad = append(cost.Quad, QuadTerm{Var1: ti.Var, Var2: tj.Var, Coeff: 2 * ti.Coeff * tj.Coeff})
		}
		if e.Constant != 0 {
			cost.Linear = append(cost.Linear, Term{Var: ti.Var, Coeff: 2 * ti.Coeff * e.Constant})
		}
	}
	cost.Constant = e.Constant * e.Constant
	return cost
}

// LinearConstraint is the row Lower ≤ Σ coeff·x ≤ Upper. Lower == Upper is an equality.
type LinearConstraint struct {
	Terms        []Term
	Lower, Upper float64
}

// IsEquality reports whether the row pins the expression to a single value.
func (c LinearConstraint) IsEquality() bool {
	return c.Lower == c.Upper
}
