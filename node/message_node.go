package node

import (
	"context"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/pipeline"
)

var _ Node = new(messageNode)

type messageNode struct {
	baseNode
	messenger   Messenger
	coordinator *pipeline.Coordinator
}

func NewMessageNode(base baseNode, messenger Messenger, coordinator *pipeline.Coordinator) *messageNode {
	return &messageNode{
		baseNode:    base,
		messenger:   messenger,
		coordinator: coordinator,
	}
}

func (n *messageNode) Validate() error {
	var config model.MessageSendConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return err
	}
	if len(config.To) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "recipient can not be empty"}
	}
	if len(config.Text) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "text can not be empty"}
	}
	return nil
}

func (n *messageNode) Execute(ctx context.Context, execution *Execution) (string, map[string]any, error) {
	var config model.MessageSendConfig
	if err := n.resolvedConfig(execution, &config); err != nil {
		return "", nil, err
	}
	if err := n.messenger.Send(config.Channel, config.To, config.Text); err != nil {
		return "", nil, err
	}
	// a run against a known deal feeds the deal's activity trail
	if dealId, ok := execution.Store.Get("deal.id"); ok {
		if id, ok := dealId.(string); ok && len(id) != 0 {
			_ = n.coordinator.RecordActivity(id, model.ACTIVITY_KIND_MESSAGE, model.ACTIVITY_ORIGIN_AUTOMATED, execution.Context.Id, "message sent")
		}
	}
	output := map[string]any{"sent": true, "to": config.To}
	execution.Store.MergeOutput(n.id+"_output", output)
	return DEFAULT_HANDLE, output, nil
}
