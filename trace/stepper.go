package trace

import (
	"fmt"

	"raytrace/ray"
)

// Kind is the outcome of one stepper call.
type Kind uint8

const (
	// Continued: the ray moved into another element of this rank and
	// should be stepped again.
	Continued Kind = iota
	// Crossed: the ray left this rank through Side into an element owned
	// by Owner. Its start, starting element and incoming side already
	// describe the entry into that element.
	Crossed
	// Terminated: the ray is done; the stepper cleared should_continue.
	Terminated
)

func (k Kind) String() string {
	switch k {
	case Continued:
		return "continued"
	case Crossed:
		return "crossed"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Step reports what happened to a ray during one stepper call.
type Step struct {
	Kind  Kind
	Side  uint32
	Owner int
}

// Stepper advances a ray through the local mesh. It updates the ray's
// counters, start, starting element and incoming side in place. A Stepper
// is used by one worker at a time.
type Stepper interface {
	Step(r *ray.Ray) (Step, error)
}

// StepperFunc adapts a function to Stepper.
type StepperFunc func(r *ray.Ray) (Step, error)

func (f StepperFunc) Step(r *ray.Ray) (Step, error) { return f(r) }
