package model

import "time"

type FlowState string

const (
	FLOW_STATE_RUNNING          FlowState = "running"
	FLOW_STATE_COMPLETED        FlowState = "completed"
	FLOW_STATE_STOPPED_ON_ERROR FlowState = "stopped_on_error"
	FLOW_STATE_FAULTED          FlowState = "faulted"
)

type NodeState string

const (
	NODE_STATE_PENDING   NodeState = "pending"
	NODE_STATE_RUNNING   NodeState = "running"
	NODE_STATE_SUCCEEDED NodeState = "succeeded"
	NODE_STATE_FAILED    NodeState = "failed"
	NODE_STATE_TIMED_OUT NodeState = "timed_out"
)

// ExecutionContext is created once per flow trigger and discarded at
// completion. It owns the run's variable namespaces and the step counter.
// It is never shared across triggers.
type ExecutionContext struct {
	Id            string               `json:"id"`
	FlowName      string               `json:"flowName"`
	Data          map[string]any       `json:"data"`
	State         FlowState            `json:"state"`
	CurrentNodeId string               `json:"currentNodeId"`
	Steps         int                  `json:"steps"`
	ErrorHandling ErrorHandlingPolicy  `json:"errorHandling"`
	NodeStates    map[string]NodeState `json:"nodeStates"`
	Error         string               `json:"error,omitempty"`
	StartedAt     time.Time            `json:"startedAt"`
	FinishedAt    time.Time            `json:"finishedAt,omitempty"`
}
