package types

import (
	"fmt"
	"time"
)

// ConfigError reports a missing or invalid required setting. It aborts the run.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// ParseError reports a queue filename that does not follow the AFL naming grammar.
// The entry is skipped.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse queue entry %q: %s", e.Name, e.Reason)
}

type ExecReason string

const (
	ExecTimeout  ExecReason = "timeout"
	ExecExit     ExecReason = "unexpected exit"
	ExecArtifact ExecReason = "coverage artifact"
	ExecStart    ExecReason = "start"
)

// ExecutionError is recorded against a single input; the batch continues.
type ExecutionError struct {
	Input   string
	Reason  ExecReason
	Timeout time.Duration
	Err     error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.Reason == ExecTimeout:
		return fmt.Sprintf("executing %s: timed out after %s", e.Input, e.Timeout)
	case e.Err != nil:
		return fmt.Sprintf("executing %s: %s: %v", e.Input, e.Reason, e.Err)
	default:
		return fmt.Sprintf("executing %s: %s", e.Input, e.Reason)
	}
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PreconditionError is returned when output already exists and overwriting
// was not requested. The message carries the "use --overwrite" hint that
// wrapper scripts grep for.
type PreconditionError struct {
	Path string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("output path %s already exists, use --overwrite to replace it", e.Path)
}
