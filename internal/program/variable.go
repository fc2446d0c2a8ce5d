package program

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrUnknownVariable is returned when a variable was never declared on the problem it is used with.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrInvalidBounds is returned when a constraint's lower bound exceeds its upper bound or is NaN.
	ErrInvalidBounds = errors.New("invalid constraint bounds")
)

// problemSerial hands out a unique owner tag to every Problem so variables of
// one problem are never mistaken for variables of another.
var problemSerial atomic.Uint64

// Variable is a continuous decision variable owned by a Problem.
// It has no value until a solve; results are looked up by variable, not by position.
type Variable struct {
	owner uint64
	id    int
	name  string
}

// ID returns the dense declaration index of the variable within its problem.
func (v Variable) ID() int { return v.id }

// Name returns the display name given at declaration.
func (v Variable) Name() string { return v.name }

// String implements fmt.Stringer.
func (v Variable) String() string {
	if v.name == "" {
		return fmt.Sprintf("x%d", v.id)
	}
	return v.name
}

// UnknownVariableError carries the offending variable.
type UnknownVariableError struct {
	Var Variable
}

func (e *UnknownVariableError) Error() string {
	return "unknown variable: " + e.Var.String()
}

// Is reports ErrUnknownVariable equivalence.
func (e *UnknownVariableError) Is(target error) bool {
	return target == ErrUnknownVariable
}
