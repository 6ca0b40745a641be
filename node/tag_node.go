package node

import (
	"context"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/pipeline"
)

var _ Node = new(tagNode)

type tagNode struct {
	baseNode
	coordinator *pipeline.Coordinator
}

func NewTagNode(base baseNode, coordinator *pipeline.Coordinator) *tagNode {
	return &tagNode{
		baseNode:    base,
		coordinator: coordinator,
	}
}

func (n *tagNode) Validate() error {
	var config model.TagManageConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return err
	}
	if len(config.DealId) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "dealId can not be empty"}
	}
	if len(config.Add) == 0 && len(config.Remove) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "nothing to add or remove"}
	}
	return nil
}

func (n *tagNode) Execute(ctx context.Context, execution *Execution) (string, map[string]any, error) {
	var config model.TagManageConfig
	if err := n.resolvedConfig(execution, &config); err != nil {
		return "", nil, err
	}
	deal, err := n.coordinator.ManageTags(config.DealId, config.Add, config.Remove, model.ACTIVITY_ORIGIN_AUTOMATED, execution.Context.Id)
	if err != nil {
		return "", nil, err
	}
	output := map[string]any{"dealId": deal.Id, "tags": deal.Tags}
	execution.Store.MergeOutput(n.id+"_output", output)
	return DEFAULT_HANDLE, output, nil
}
