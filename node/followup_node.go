package node

import (
	"context"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/scheduler"
)

var _ Node = new(followUpNode)

type followUpNode struct {
	baseNode
	scheduler *scheduler.Scheduler
}

func NewFollowUpNode(base baseNode, scheduler *scheduler.Scheduler) *followUpNode {
	return &followUpNode{
		baseNode:  base,
		scheduler: scheduler,
	}
}

func (n *followUpNode) Validate() error {
	var config model.FollowUpConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return err
	}
	if len(config.DealId) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "dealId can not be empty"}
	}
	if len(config.Message) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "message can not be empty"}
	}
	if config.Amount <= 0 {
		return model.ValidationError{NodeId: n.id, Message: "delay amount must be positive"}
	}
	if config.Unit != model.REVERT_UNIT_HOURS && config.Unit != model.REVERT_UNIT_DAYS {
		return model.ValidationError{NodeId: n.id, Message: "unit must be hours or days"}
	}
	return nil
}

func (n *followUpNode) Execute(ctx context.Context, execution *Execution) (string, map[string]any, error) {
	var config model.FollowUpConfig
	if err := n.resolvedConfig(execution, &config); err != nil {
		return "", nil, err
	}
	id, err := n.scheduler.ScheduleFollowUp(config.DealId, config.Message, config.Amount, config.Unit)
	if err != nil {
		return "", nil, err
	}
	output := map[string]any{"followUpId": id}
	execution.Store.MergeOutput(n.id+"_output", output)
	return DEFAULT_HANDLE, output, nil
}
