package node

import (
	"context"

	"github.com/marchworks/dealflow/model"
)

// HANDLE_SEPARATE routes a translation that should go out as its own
// message instead of replacing the original text.
const HANDLE_SEPARATE = "separate"

var _ Node = new(translateNode)

type translateNode struct {
	baseNode
	translator Translator
}

func NewTranslateNode(base baseNode, translator Translator) *translateNode {
	return &translateNode{
		baseNode:   base,
		translator: translator,
	}
}

func (n *translateNode) Validate() error {
	var config model.TranslateConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return err
	}
	if len(config.Text) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "text can not be empty"}
	}
	if len(config.TargetLang) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "targetLang can not be empty"}
	}
	return nil
}

func (n *translateNode) Execute(ctx context.Context, execution *Execution) (string, map[string]any, error) {
	var config model.TranslateConfig
	if err := n.resolvedConfig(execution, &config); err != nil {
		return "", nil, err
	}
	translated, err := n.translator.Translate(config.Text, config.TargetLang)
	if err != nil {
		return "", nil, err
	}
	output := map[string]any{
		"translated": translated,
		"targetLang": config.TargetLang,
	}
	execution.Store.MergeOutput(n.id+"_output", output)
	if config.SeparateMessage {
		return HANDLE_SEPARATE, output, nil
	}
	return DEFAULT_HANDLE, output, nil
}
