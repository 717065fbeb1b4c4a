package bootstrap

import (
	"errors"
	"fmt"
)

// Kind classifies bootstrap failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigInvalid
	KindBindFailure
	KindDependencyUnreachable
	KindShutdownTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config invalid"
	case KindBindFailure:
		return "bind failure"
	case KindDependencyUnreachable:
		return "dependency unreachable"
	case KindShutdownTimeout:
		return "shutdown timeout"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrConfigInvalid         = errors.New("config invalid")
	ErrBindFailure           = errors.New("bind failure")
	ErrDependencyUnreachable = errors.New("dependency unreachable")
	ErrShutdownTimeout       = errors.New("shutdown timeout")
	ErrAlreadyRunning        = errors.New("service is already running")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConfigInvalid:
		return ErrConfigInvalid
	case KindBindFailure:
		return ErrBindFailure
	case KindDependencyUnreachable:
		return ErrDependencyUnreachable
	case KindShutdownTimeout:
		return ErrShutdownTimeout
	default:
		return nil
	}
}

// Error is a classified start or shutdown failure. Component names the
// resource that failed ("config", "persistence", "rest", ...).
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Component, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newError(kind Kind, component string, err error) *Error {
	return &Error{Kind: kind, Component: component, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// Process exit codes.
const (
	ExitOK                    = 0
	ExitFailure               = 1
	ExitConfigInvalid         = 2
	ExitBindFailure           = 3
	ExitDependencyUnreachable = 4
	ExitShutdownTimeout       = 5
)

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindConfigInvalid:
		return ExitConfigInvalid
	case KindBindFailure:
		return ExitBindFailure
	case KindDependencyUnreachable:
		return ExitDependencyUnreachable
	case KindShutdownTimeout:
		return ExitShutdownTimeout
	default:
		return ExitFailure
	}
}
