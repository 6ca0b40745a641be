package node

import (
	"context"
	"fmt"
	"net/http"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/pipeline"
	"github.com/marchworks/dealflow/sandbox"
	"github.com/marchworks/dealflow/scheduler"
	"github.com/marchworks/dealflow/variables"
	"github.com/mitchellh/mapstructure"
)

// DEFAULT_HANDLE is the implicit output of single-output nodes. An edge
// with an empty handleId matches it.
const DEFAULT_HANDLE = "default"

// Execution is the per-run state a node acts on: the execution record and
// its variable store.
type Execution struct {
	Context *model.ExecutionContext
	Store   *variables.Store
}

// Node is one typed step of a flow. Execute returns the output handle to
// follow and the node's output variables. Validate runs at flow save time
// only.
type Node interface {
	GetId() string
	GetType() model.NodeType
	Validate() error
	Execute(ctx context.Context, execution *Execution) (string, map[string]any, error)
}

// Messenger delivers an outbound message on a channel. Channel-specific
// integrations (WhatsApp, Instagram, ...) implement it outside this
// runtime.
type Messenger interface {
	Send(channel string, to string, text string) error
}

// Translator translates operator-facing text. External collaborator,
// interface only.
type Translator interface {
	Translate(text string, targetLang string) (string, error)
}

type baseNode struct {
	id       string
	nodeType model.NodeType
	config   map[string]any
}

func newBaseNode(def model.NodeDef) baseNode {
	return baseNode{
		id:       def.Id,
		nodeType: def.Type,
		config:   def.Config,
	}
}

func (b *baseNode) GetId() string {
	return b.id
}

func (b *baseNode) GetType() model.NodeType {
	return b.nodeType
}

func (b *baseNode) Validate() error {
	return nil
}

// resolvedConfig substitutes {{path}} tokens in every string config field
// against the execution's variable store, then decodes into the node's
// typed config.
func (b *baseNode) resolvedConfig(execution *Execution, out any) error {
	resolved := variables.ResolveConfig(b.config, execution.Store)
	if err := mapstructure.Decode(resolved, out); err != nil {
		return model.ValidationError{NodeId: b.id, Message: err.Error()}
	}
	return nil
}

// decodeRawConfig decodes the untemplated config for save-time checks.
func (b *baseNode) decodeRawConfig(out any) error {
	if err := mapstructure.Decode(b.config, out); err != nil {
		return model.ValidationError{NodeId: b.id, Message: err.Error()}
	}
	return nil
}

// Dependencies carries the collaborators node handlers run against.
type Dependencies struct {
	Sandbox     *sandbox.Executor
	HttpClient  *http.Client
	Coordinator *pipeline.Coordinator
	Scheduler   *scheduler.Scheduler
	Messenger   Messenger
	Translator  Translator
	Evaluator   *Evaluator
}

// Build maps a node definition onto its typed handler. Dispatch is
// exhaustive over the closed set of node types; an unknown type is a
// save-time validation error.
func Build(def model.NodeDef, deps Dependencies) (Node, error) {
	base := newBaseNode(def)
	switch def.Type {
	case model.NODE_TYPE_CODE_EXEC:
		return NewCodeNode(base, deps.Sandbox), nil
	case model.NODE_TYPE_HTTP_CALL:
		return NewHttpNode(base, deps.HttpClient), nil
	case model.NODE_TYPE_CONDITIONAL:
		return NewConditionalNode(base, deps.Evaluator), nil
	case model.NODE_TYPE_MESSAGE_SEND:
		return NewMessageNode(base, deps.Messenger, deps.Coordinator), nil
	case model.NODE_TYPE_PIPELINE_UPDATE:
		return NewPipelineUpdateNode(base, deps.Coordinator, deps.Scheduler), nil
	case model.NODE_TYPE_TAG_MANAGE:
		return NewTagNode(base, deps.Coordinator), nil
	case model.NODE_TYPE_TRANSLATE:
		return NewTranslateNode(base, deps.Translator), nil
	case model.NODE_TYPE_FOLLOW_UP:
		return NewFollowUpNode(base, deps.Scheduler), nil
	default:
		return nil, model.ValidationError{NodeId: def.Id, Message: fmt.Sprintf("unknown node type %q", def.Type)}
	}
}
