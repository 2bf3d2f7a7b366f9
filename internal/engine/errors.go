package engine

import "fmt"

// Op names an engine primitive
type Op string

const (
	OpWrite  Op = "write"
	OpExec   Op = "exec"
	OpRead   Op = "read"
	OpDelete Op = "delete"
)

// LoadError means the engine could not be initialised
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("engine load failed: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// CommandError wraps a failed engine primitive
type CommandError struct {
	Op   Op
	Name string
	Err  error
}

func (e *CommandError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("engine %s %s failed: %v", e.Op, e.Name, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
