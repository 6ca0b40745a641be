package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/marchworks/dealflow/metadata"
	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/node"
	"github.com/marchworks/dealflow/persistence/redis"
	"github.com/marchworks/dealflow/pipeline"
	"github.com/marchworks/dealflow/sandbox"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine      *FlowEngine
	metadata    metadata.MetadataService
	coordinator *pipeline.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	baseDao := redis.NewBaseDaoFromClient(client, "test")
	coordinator := pipeline.NewCoordinator(redis.NewDealStorage(baseDao), redis.NewRevertStorage(baseDao))
	deps := node.Dependencies{
		Sandbox:     sandbox.NewExecutor(nil),
		HttpClient:  http.DefaultClient,
		Coordinator: coordinator,
		Evaluator:   node.NewEvaluator(),
	}
	service, err := metadata.NewMetadataService(redis.NewMetadataStorage(baseDao), deps)
	require.NoError(t, err)
	return &harness{
		engine:      NewFlowEngine(service, redis.NewFlowStorage(baseDao)),
		metadata:    service,
		coordinator: coordinator,
	}
}

func codeNode(id string, code string) model.NodeDef {
	return model.NodeDef{
		Id:   id,
		Type: model.NODE_TYPE_CODE_EXEC,
		Config: map[string]any{
			"code":      code,
			"timeoutMs": 2000,
		},
	}
}

func TestConditionalRouting(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.metadata.SaveWorkflow(&model.Workflow{
		Name:          "routing",
		TriggerNodeId: "check",
		ErrorHandling: model.ERROR_HANDLING_STOP,
		Nodes: []model.NodeDef{
			{Id: "check", Type: model.NODE_TYPE_CONDITIONAL, Config: map[string]any{"expression": `contact.vip == true`}},
			codeNode("vipPath", `variables.path = "vip";`),
			codeNode("standardPath", `variables.path = "standard";`),
		},
		Edges: []model.EdgeDef{
			{Source: "check", Target: "vipPath", HandleId: "true"},
			{Source: "check", Target: "standardPath", HandleId: "false"},
		},
	}))

	execution, err := h.engine.Execute(context.Background(), "routing", map[string]any{
		"contact": map[string]any{"vip": true},
	})
	require.NoError(t, err)
	require.Equal(t, model.FLOW_STATE_COMPLETED, execution.State)
	require.Equal(t, model.NODE_STATE_SUCCEEDED, execution.NodeStates["check"])
	require.Equal(t, model.NODE_STATE_SUCCEEDED, execution.NodeStates["vipPath"])
	require.NotContains(t, execution.NodeStates, "standardPath")

	output, ok := execution.Data["code_execution_output"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "vip", output["path"])

	// the other branch on false input
	execution, err = h.engine.Execute(context.Background(), "routing", map[string]any{
		"contact": map[string]any{"vip": false},
	})
	require.NoError(t, err)
	require.Equal(t, model.NODE_STATE_SUCCEEDED, execution.NodeStates["standardPath"])
	require.NotContains(t, execution.NodeStates, "vipPath")
}

func TestContinuePolicyRunsPastFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.metadata.SaveWorkflow(&model.Workflow{
		Name:          "lenient",
		TriggerNodeId: "broken",
		ErrorHandling: model.ERROR_HANDLING_CONTINUE,
		Nodes: []model.NodeDef{
			codeNode("broken", `throw new Error("boom");`),
			codeNode("after", `variables.survived = true;`),
		},
		Edges: []model.EdgeDef{
			{Source: "broken", Target: "after"},
		},
	}))

	execution, err := h.engine.Execute(context.Background(), "lenient", nil)
	require.NoError(t, err)
	require.Equal(t, model.FLOW_STATE_COMPLETED, execution.State)
	require.Equal(t, model.NODE_STATE_FAILED, execution.NodeStates["broken"])
	require.Equal(t, model.NODE_STATE_SUCCEEDED, execution.NodeStates["after"])

	output, ok := execution.Data["code_execution_output"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, output["survived"])
}

func TestStopPolicyHaltsOnFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.metadata.SaveWorkflow(&model.Workflow{
		Name:          "strict",
		TriggerNodeId: "broken",
		ErrorHandling: model.ERROR_HANDLING_STOP,
		Nodes: []model.NodeDef{
			codeNode("broken", `throw new Error("boom");`),
			codeNode("after", `variables.survived = true;`),
		},
		Edges: []model.EdgeDef{
			{Source: "broken", Target: "after"},
		},
	}))

	execution, err := h.engine.Execute(context.Background(), "strict", nil)
	require.NoError(t, err)
	require.Equal(t, model.FLOW_STATE_STOPPED_ON_ERROR, execution.State)
	require.Contains(t, execution.Error, "boom")
	require.NotContains(t, execution.NodeStates, "after")
}

func TestTimeoutMarksNodeTimedOut(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.metadata.SaveWorkflow(&model.Workflow{
		Name:          "slow",
		TriggerNodeId: "loop",
		ErrorHandling: model.ERROR_HANDLING_STOP,
		Nodes: []model.NodeDef{
			{Id: "loop", Type: model.NODE_TYPE_CODE_EXEC, Config: map[string]any{
				"code":      `while (true) {}`,
				"timeoutMs": 100,
			}},
		},
	}))

	execution, err := h.engine.Execute(context.Background(), "slow", nil)
	require.NoError(t, err)
	require.Equal(t, model.FLOW_STATE_STOPPED_ON_ERROR, execution.State)
	require.Equal(t, model.NODE_STATE_TIMED_OUT, execution.NodeStates["loop"])
}

func TestBlockedMoveStopsFlowDespiteContinuePolicy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.coordinator.SavePipeline(&model.Pipeline{
		Id:     "sales",
		Stages: []model.PipelineStage{{Id: "s1"}, {Id: "s2"}},
	}))
	require.NoError(t, h.coordinator.SavePipeline(&model.Pipeline{
		Id:     "onboarding",
		Stages: []model.PipelineStage{{Id: "o1"}},
	}))
	// the contact already holds an active deal in sales
	_, err := h.coordinator.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: "sales", StageId: "s1"})
	require.NoError(t, err)
	blocked, err := h.coordinator.CreateDeal(model.CreateDealRequest{ContactId: "c1", PipelineId: "onboarding", StageId: "o1"})
	require.NoError(t, err)

	require.NoError(t, h.metadata.SaveWorkflow(&model.Workflow{
		Name:          "promote",
		TriggerNodeId: "move",
		ErrorHandling: model.ERROR_HANDLING_CONTINUE,
		Nodes: []model.NodeDef{
			{Id: "move", Type: model.NODE_TYPE_PIPELINE_UPDATE, Config: map[string]any{
				"dealId":           "{{deal.id}}",
				"targetPipelineId": "sales",
				"targetStageId":    "s2",
			}},
			codeNode("after", `variables.survived = true;`),
		},
		Edges: []model.EdgeDef{
			{Source: "move", Target: "after"},
		},
	}))

	execution, err := h.engine.Execute(context.Background(), "promote", map[string]any{
		"deal": map[string]any{"id": blocked.Id},
	})
	require.NoError(t, err)
	// continue policy does not apply to invariant conflicts
	require.Equal(t, model.FLOW_STATE_STOPPED_ON_ERROR, execution.State)
	require.Equal(t, model.NODE_STATE_FAILED, execution.NodeStates["move"])
	require.NotContains(t, execution.NodeStates, "after")

	// the blocked deal was left untouched
	deal, err := h.coordinator.GetDeal(blocked.Id)
	require.NoError(t, err)
	require.Equal(t, "onboarding", deal.PipelineId)
}

func TestCycleFaultsAtStepLimit(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.metadata.SaveWorkflow(&model.Workflow{
		Name:          "cycle",
		TriggerNodeId: "a",
		ErrorHandling: model.ERROR_HANDLING_CONTINUE,
		Nodes: []model.NodeDef{
			{Id: "a", Type: model.NODE_TYPE_CONDITIONAL, Config: map[string]any{"expression": "true"}},
			{Id: "b", Type: model.NODE_TYPE_CONDITIONAL, Config: map[string]any{"expression": "true"}},
		},
		Edges: []model.EdgeDef{
			{Source: "a", Target: "b", HandleId: "true"},
			{Source: "b", Target: "a", HandleId: "true"},
		},
	}))

	execution, err := h.engine.Execute(context.Background(), "cycle", nil)
	require.NoError(t, err)
	require.Equal(t, model.FLOW_STATE_FAULTED, execution.State)
	require.Equal(t, maxSteps, execution.Steps)
}

func TestStartFlowRunsAsynchronously(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.metadata.SaveWorkflow(&model.Workflow{
		Name:          "async",
		TriggerNodeId: "work",
		ErrorHandling: model.ERROR_HANDLING_STOP,
		Nodes: []model.NodeDef{
			codeNode("work", `variables.done = true;`),
		},
	}))

	executionId, err := h.engine.StartFlow("async", nil)
	require.NoError(t, err)
	require.NotEmpty(t, executionId)

	require.Eventually(t, func() bool {
		execution, err := h.engine.GetExecution(executionId)
		return err == nil && execution.State == model.FLOW_STATE_COMPLETED
	}, 5*time.Second, 20*time.Millisecond)
}

func TestUnknownFlow(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Execute(context.Background(), "missing", nil)
	require.Error(t, err)
	var notFound model.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSystemVariablesSeeded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.metadata.SaveWorkflow(&model.Workflow{
		Name:          "seeded",
		TriggerNodeId: "capture",
		ErrorHandling: model.ERROR_HANDLING_STOP,
		Nodes: []model.NodeDef{
			codeNode("capture", `variables.seenFlow = variables.system.flowName;`),
		},
	}))

	execution, err := h.engine.Execute(context.Background(), "seeded", nil)
	require.NoError(t, err)
	require.Equal(t, model.FLOW_STATE_COMPLETED, execution.State)
	output, ok := execution.Data["code_execution_output"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "seeded", output["seenFlow"])
}
