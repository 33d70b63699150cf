package engine

import "fmt"

// ForbiddenError indicates the caller lacks the required relationship to the
// task (wrong author, wrong volunteer, self-claim).
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string { return e.Reason }

// InvalidStateError indicates the requested transition does not apply to the
// task's current status, including the case where a concurrent transition won
// the race first.
type InvalidStateError struct {
	Status string
	Op     string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a task in status %s", e.Op, e.Status)
}

// ConflictError indicates a concurrent transition committed between this
// operation's precondition check and its write.
type ConflictError struct {
	Op string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("task changed concurrently during %s", e.Op)
}

// ValidationError indicates malformed input at the transition boundary.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }
