package model

type NodeType string

const (
	NODE_TYPE_CODE_EXEC       NodeType = "code_exec"
	NODE_TYPE_HTTP_CALL       NodeType = "http_call"
	NODE_TYPE_CONDITIONAL     NodeType = "conditional"
	NODE_TYPE_MESSAGE_SEND    NodeType = "message_send"
	NODE_TYPE_PIPELINE_UPDATE NodeType = "pipeline_update"
	NODE_TYPE_TAG_MANAGE      NodeType = "tag_manage"
	NODE_TYPE_TRANSLATE       NodeType = "translate"
	NODE_TYPE_FOLLOW_UP       NodeType = "follow_up_schedule"
)

type ErrorHandlingPolicy string

const (
	ERROR_HANDLING_CONTINUE ErrorHandlingPolicy = "continue"
	ERROR_HANDLING_STOP     ErrorHandlingPolicy = "stop"
)

// Workflow is the authored flow definition. It is read only at execution
// time; the engine never mutates it.
type Workflow struct {
	Name          string              `json:"name"`
	TriggerNodeId string              `json:"triggerNodeId"`
	Nodes         []NodeDef           `json:"nodes"`
	Edges         []EdgeDef           `json:"edges"`
	ErrorHandling ErrorHandlingPolicy `json:"errorHandling"`
}

type NodeDef struct {
	Id     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config"`
}

// EdgeDef connects two nodes. HandleId disambiguates multiple outputs of
// one node (conditional true/false, list-row handles, separate translation
// message). An empty HandleId is the "default" handle.
type EdgeDef struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	HandleId string `json:"handleId,omitempty"`
}

type FlowRunRequest struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type TestCodeRequest struct {
	Code      string         `json:"code"`
	Timeout   int            `json:"timeout"`
	Variables map[string]any `json:"variables"`
}

type TestCodeResponse struct {
	Success   bool           `json:"success"`
	Result    any            `json:"result,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Error     string         `json:"error,omitempty"`
}
