package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/sandbox"
	"github.com/marchworks/dealflow/variables"
	"go.uber.org/zap"
)

var _ Node = new(codeNode)

type codeNode struct {
	baseNode
	executor *sandbox.Executor
}

func NewCodeNode(base baseNode, executor *sandbox.Executor) *codeNode {
	return &codeNode{
		baseNode: base,
		executor: executor,
	}
}

func (n *codeNode) Validate() error {
	var config model.CodeExecConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return err
	}
	if len(config.Code) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "code can not be empty"}
	}
	if config.TimeoutMs != 0 && (config.TimeoutMs < sandbox.MIN_TIMEOUT_MS || config.TimeoutMs > sandbox.MAX_TIMEOUT_MS) {
		return model.ValidationError{NodeId: n.id, Message: fmt.Sprintf("timeoutMs %d outside [%d, %d]", config.TimeoutMs, sandbox.MIN_TIMEOUT_MS, sandbox.MAX_TIMEOUT_MS)}
	}
	return nil
}

// Execute runs the node's script against a snapshot of the run's
// variables. The script is run as authored; template tokens are for
// config fields, not code, so the store is passed in as data instead.
func (n *codeNode) Execute(ctx context.Context, execution *Execution) (string, map[string]any, error) {
	var config model.CodeExecConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return "", nil, err
	}
	timeout := config.TimeoutMs
	if timeout == 0 {
		timeout = 5000
	}
	logger.Info("running code node", zap.String("node", n.id), zap.String("execution", execution.Context.Id))
	result := n.executor.Execute(ctx, config.Code, execution.Store.Snapshot(), timeout)
	if !result.Success {
		if result.Error == "timeout" {
			return "", nil, model.SandboxTimeoutError{TimeoutMs: timeout}
		}
		return "", nil, model.SandboxRuntimeError{Message: result.Error}
	}
	// the sandbox returns the full variables object; the seeded category
	// and output namespaces are echoes, only the script's own keys count
	// as output
	written := result.Variables
	for _, cat := range variables.Categories() {
		delete(written, cat)
	}
	for key := range written {
		if strings.HasSuffix(key, "_output") {
			delete(written, key)
		}
	}
	execution.Store.MergeOutput(n.id+"_output", written)
	execution.Store.MergeOutput(variables.CODE_OUTPUT_KEY, written)
	return DEFAULT_HANDLE, written, nil
}
