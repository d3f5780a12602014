package parser

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	ErrUnknownParser     = errors.New("unknown parser")
	ErrBlacklisted       = errors.New("parser is blacklisted")
	ErrDisabled          = errors.New("parser is disabled")
	ErrContractViolation = errors.New("parser contract violation")
)

// Load stages reported in LoadError.
const (
	StageDiscover   = "discover"
	StageConstruct  = "construct"
	StageBind       = "bind"
	StageInitialize = "initialize"
	StageShutdown   = "shutdown"
)

// LoadError records why a parser was excluded from the loaded set.
type LoadError struct {
	Parser string
	Stage  string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load parser %q (%s): %v", e.Parser, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PanicError is a recovered panic from parser code.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Safely runs fn and converts a panic into a *PanicError.
func Safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
