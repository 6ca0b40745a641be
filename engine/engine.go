package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marchworks/dealflow/analytics"
	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/metadata"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/node"
	"github.com/marchworks/dealflow/persistence"
	"github.com/marchworks/dealflow/variables"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	flowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealflow_flows_started_total",
		Help: "Flow executions started.",
	})
	flowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealflow_flows_finished_total",
		Help: "Flow executions finished, by terminal state.",
	}, []string{"state"})
	sandboxTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealflow_sandbox_timeouts_total",
		Help: "Code nodes aborted on timeout.",
	})
)

// maxSteps caps a single run. A followed path longer than this means a
// cycle the editor let through; the run faults instead of spinning.
const maxSteps = 1000

// FlowEngine walks a compiled flow from its trigger node. Each trigger
// gets its own ExecutionContext; contexts are never shared and never
// outlive the run except as persisted diagnostics.
type FlowEngine struct {
	metadataService metadata.MetadataService
	storage         persistence.FlowStorage
}

func NewFlowEngine(metadataService metadata.MetadataService, storage persistence.FlowStorage) *FlowEngine {
	return &FlowEngine{
		metadataService: metadataService,
		storage:         storage,
	}
}

// StartFlow triggers a run and returns its execution id without waiting
// for completion. Independent triggers run concurrently.
func (e *FlowEngine) StartFlow(name string, input map[string]any) (string, error) {
	flow, err := e.metadataService.GetFlow(name)
	if err != nil {
		return "", err
	}
	executionId := uuid.NewString()
	go func() {
		e.run(context.Background(), flow, executionId, input)
	}()
	return executionId, nil
}

// Execute runs a flow synchronously and returns the finished context.
func (e *FlowEngine) Execute(ctx context.Context, name string, input map[string]any) (*model.ExecutionContext, error) {
	flow, err := e.metadataService.GetFlow(name)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, flow, uuid.NewString(), input), nil
}

func (e *FlowEngine) GetExecution(id string) (*model.ExecutionContext, error) {
	return e.storage.GetExecution(id)
}

// RefreshCaptured merges recent node outputs of a flow into a store's
// captured category. It backs the editor's variable listing refresh.
func (e *FlowEngine) RefreshCaptured(flowName string, store *variables.Store) error {
	outputs, err := e.storage.ListRecentOutputs(flowName, 20)
	if err != nil {
		return err
	}
	store.RefreshCaptured(outputs)
	return nil
}

func (e *FlowEngine) run(ctx context.Context, flow *metadata.CompiledFlow, executionId string, input map[string]any) *model.ExecutionContext {
	flowsStarted.Inc()
	store := variables.NewStore(input)
	seedSystem(store, executionId, flow.Definition.Name)

	execution := &model.ExecutionContext{
		Id:            executionId,
		FlowName:      flow.Definition.Name,
		Data:          store.Data(),
		State:         model.FLOW_STATE_RUNNING,
		ErrorHandling: flow.Definition.ErrorHandling,
		NodeStates:    make(map[string]model.NodeState),
		StartedAt:     time.Now(),
	}
	nodeExecution := &node.Execution{Context: execution, Store: store}

	currentId := flow.Definition.TriggerNodeId
	for len(currentId) != 0 {
		if execution.Steps >= maxSteps {
			execution.State = model.FLOW_STATE_FAULTED
			execution.Error = "step limit exceeded"
			break
		}
		current, ok := flow.Nodes[currentId]
		if !ok {
			execution.State = model.FLOW_STATE_FAULTED
			execution.Error = "node " + currentId + " not found"
			break
		}
		execution.Steps++
		execution.CurrentNodeId = currentId
		execution.NodeStates[currentId] = model.NODE_STATE_RUNNING

		handle, output, err := current.Execute(ctx, nodeExecution)
		if err != nil {
			execution.NodeStates[currentId] = nodeFailureState(err)
			analytics.RecordNodeFailure(execution.FlowName, executionId, currentId, string(current.GetType()), err.Error())
			logger.Error("node failed", zap.String("flow", execution.FlowName), zap.String("execution", executionId), zap.String("node", currentId), zap.Error(err))

			// an invariant conflict is never continued past: proceeding
			// would corrupt the pipeline invariant
			if model.IsInvariantViolation(err) || execution.ErrorHandling == model.ERROR_HANDLING_STOP {
				execution.State = model.FLOW_STATE_STOPPED_ON_ERROR
				execution.Error = err.Error()
				break
			}
			// continue policy: move on with downstream variables unset
			currentId = e.nextNode(flow, currentId, node.DEFAULT_HANDLE)
			continue
		}

		execution.NodeStates[currentId] = model.NODE_STATE_SUCCEEDED
		analytics.RecordNodeSuccess(execution.FlowName, executionId, currentId, string(current.GetType()), output)
		currentId = e.nextNode(flow, currentId, handle)
	}

	if execution.State == model.FLOW_STATE_RUNNING {
		execution.State = model.FLOW_STATE_COMPLETED
	}
	execution.FinishedAt = time.Now()
	flowsFinished.WithLabelValues(string(execution.State)).Inc()
	if err := e.storage.SaveExecution(execution); err != nil {
		logger.Error("error persisting execution", zap.String("execution", executionId), zap.Error(err))
	}
	logger.Info("flow finished", zap.String("flow", execution.FlowName), zap.String("execution", executionId), zap.String("state", string(execution.State)), zap.Int("steps", execution.Steps))
	return execution
}

func (e *FlowEngine) nextNode(flow *metadata.CompiledFlow, currentId string, handle string) string {
	next, ok := flow.NextNode(currentId, handle)
	if !ok {
		return ""
	}
	return next
}

func nodeFailureState(err error) model.NodeState {
	var timeoutErr model.SandboxTimeoutError
	if errors.As(err, &timeoutErr) {
		sandboxTimeouts.Inc()
		return model.NODE_STATE_TIMED_OUT
	}
	return model.NODE_STATE_FAILED
}

func seedSystem(store *variables.Store, executionId string, flowName string) {
	_ = store.Set(variables.CATEGORY_SYSTEM+".executionId", executionId)
	_ = store.Set(variables.CATEGORY_SYSTEM+".flowName", flowName)
	_ = store.Set(variables.CATEGORY_SYSTEM+".triggeredAt", time.Now().Format(time.RFC3339))
}
