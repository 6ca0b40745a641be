package model

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed flow or node config. It is raised at
// flow save time only.
type ValidationError struct {
	NodeId  string
	Message string
}

func (e ValidationError) Error() string {
	if len(e.NodeId) == 0 {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed for node %s: %s", e.NodeId, e.Message)
}

type SandboxTimeoutError struct {
	TimeoutMs int
}

func (e SandboxTimeoutError) Error() string {
	return "timeout"
}

type SandboxRuntimeError struct {
	Message string
}

func (e SandboxRuntimeError) Error() string {
	return e.Message
}

// UpstreamHttpError reports a non-2xx status or network failure from a
// node's outbound call.
type UpstreamHttpError struct {
	Url        string
	StatusCode int
	Message    string
}

func (e UpstreamHttpError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream call to %s returned status %d", e.Url, e.StatusCode)
	}
	return fmt.Sprintf("upstream call to %s failed: %s", e.Url, e.Message)
}

// InvariantViolation reports a pipeline mutual exclusion conflict. It is
// never swallowed by the continue error policy.
type InvariantViolation struct {
	Code    string
	Message string
}

func (e InvariantViolation) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const BLOCKED_BY_EXISTING_DEAL = "BLOCKED_BY_EXISTING_DEAL"

type ScheduleConflict struct {
	ScheduleId string
	Status     RevertStatus
}

func (e ScheduleConflict) Error() string {
	return fmt.Sprintf("schedule %s already %s", e.ScheduleId, e.Status)
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

func IsInvariantViolation(err error) bool {
	var iv InvariantViolation
	return errors.As(err, &iv)
}
