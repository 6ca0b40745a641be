package node

import (
	"context"

	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/pipeline"
	"github.com/marchworks/dealflow/scheduler"
	"go.uber.org/zap"
)

var _ Node = new(pipelineUpdateNode)

type pipelineUpdateNode struct {
	baseNode
	coordinator *pipeline.Coordinator
	scheduler   *scheduler.Scheduler
}

func NewPipelineUpdateNode(base baseNode, coordinator *pipeline.Coordinator, scheduler *scheduler.Scheduler) *pipelineUpdateNode {
	return &pipelineUpdateNode{
		baseNode:    base,
		coordinator: coordinator,
		scheduler:   scheduler,
	}
}

func (n *pipelineUpdateNode) Validate() error {
	var config model.PipelineUpdateConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return err
	}
	if len(config.DealId) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "dealId can not be empty"}
	}
	if len(config.TargetStageId) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "targetStageId can not be empty"}
	}
	// the revert sub-record is optional as a whole; when present it must
	// be complete
	if config.Revert != nil {
		if len(config.Revert.ToStageId) == 0 {
			return model.ValidationError{NodeId: n.id, Message: "revert requires toStageId"}
		}
		if config.Revert.Amount <= 0 {
			return model.ValidationError{NodeId: n.id, Message: "revert delay amount must be positive"}
		}
		if config.Revert.Unit != model.REVERT_UNIT_HOURS && config.Revert.Unit != model.REVERT_UNIT_DAYS {
			return model.ValidationError{NodeId: n.id, Message: "revert unit must be hours or days"}
		}
	}
	return nil
}

// Execute moves the deal cross-pipeline or updates its stage in place,
// then schedules the optional stage revert. An InvariantViolation from a
// blocked cross-pipeline move fails the node regardless of the flow's
// error policy.
func (n *pipelineUpdateNode) Execute(ctx context.Context, execution *Execution) (string, map[string]any, error) {
	var config model.PipelineUpdateConfig
	if err := n.resolvedConfig(execution, &config); err != nil {
		return "", nil, err
	}
	deal, err := n.coordinator.GetDeal(config.DealId)
	if err != nil {
		return "", nil, err
	}

	if len(config.TargetPipelineId) != 0 && config.TargetPipelineId != deal.PipelineId {
		deal, err = n.coordinator.MoveDeal(config.DealId, config.TargetPipelineId, config.TargetStageId, model.ACTIVITY_ORIGIN_AUTOMATED, execution.Context.Id)
	} else {
		deal, err = n.coordinator.UpdateStage(config.DealId, config.TargetStageId, model.ACTIVITY_ORIGIN_AUTOMATED, execution.Context.Id)
	}
	if err != nil {
		return "", nil, err
	}

	output := map[string]any{
		"dealId":     deal.Id,
		"pipelineId": deal.PipelineId,
		"stageId":    deal.StageId,
	}
	if config.Revert != nil {
		scheduleId, err := n.scheduler.ScheduleRevert(deal.Id, execution.Context.Id, *config.Revert)
		if err != nil {
			return "", nil, err
		}
		output["scheduleId"] = scheduleId
		logger.Info("revert scheduled by node", zap.String("node", n.id), zap.String("scheduleId", scheduleId))
	}
	execution.Store.MergeOutput(n.id+"_output", output)
	return DEFAULT_HANDLE, output, nil
}
