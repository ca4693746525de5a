package installer

import (
	"errors"
	"fmt"
)

// Stage is one step of the install pipeline.
type Stage int

// Pipeline stages in execution order.
const (
	StageResolve Stage = iota + 1
	StageFetch
	StageVerify
	StageInstall
	StageSelfTest
)

func (s Stage) String() string {
	switch s {
	case StageResolve:
		return "resolve"
	case StageFetch:
		return "fetch"
	case StageVerify:
		return "verify"
	case StageInstall:
		return "install"
	case StageSelfTest:
		return "self-test"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ExitCode is the process exit status reported when the stage fails.
func (s Stage) ExitCode() int {
	switch s {
	case StageResolve, StageFetch, StageVerify, StageInstall, StageSelfTest:
		return int(s) + 1
	default:
		return 1
	}
}

// State is the progress of a run. Each successful stage moves the run to the
// next state; a run never goes back.
type State int

// Pipeline states.
const (
	StatePending State = iota
	StateResolved
	StateFetched
	StateVerified
	StateInstalled
	StateTested
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateResolved:
		return "Resolved"
	case StateFetched:
		return "Fetched"
	case StateVerified:
		return "Verified"
	case StateInstalled:
		return "Installed"
	case StateTested:
		return "Tested"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// completes returns the state reached when s succeeds.
func (s Stage) completes() State {
	return State(s)
}

var errInvalidTransition = errors.New("invalid pipeline transition")

// advance moves from to the state right after it. Skipping or going back is refused.
func advance(from, to State) (State, error) {
	if to != from+1 || to > StateTested {
		return from, fmt.Errorf("%s -> %s: %w", from, to, errInvalidTransition)
	}

	return to, nil
}

// StageError reports which stage halted the pipeline.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Run to a process exit status:
// 0 on success, 2 to 6 for the resolve, fetch, verify, install and self-test
// stages, and 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage.ExitCode()
	}

	return 1
}
