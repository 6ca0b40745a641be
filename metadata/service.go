package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/node"
	"github.com/marchworks/dealflow/persistence"
	c "github.com/patrickmn/go-cache"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompiledFlow is an executable view of a workflow definition: typed node
// handlers plus the edge topology indexed by source.
type CompiledFlow struct {
	Definition    *model.Workflow
	Nodes         map[string]node.Node
	edgesBySource map[string][]model.EdgeDef
}

// NextNode selects the outbound edge matching the handle a node produced.
// An edge with an empty handleId matches the default handle.
func (f *CompiledFlow) NextNode(sourceId string, handle string) (string, bool) {
	for _, edge := range f.edgesBySource[sourceId] {
		edgeHandle := edge.HandleId
		if len(edgeHandle) == 0 {
			edgeHandle = node.DEFAULT_HANDLE
		}
		if edgeHandle == handle {
			return edge.Target, true
		}
	}
	return "", false
}

type MetadataService interface {
	SaveWorkflow(workflow *model.Workflow) error
	GetFlow(name string) (*CompiledFlow, error)
	GetWorkflow(name string) (*model.Workflow, error)
	ListWorkflowNames() ([]string, error)
	DeleteWorkflow(name string) error
}

type metadataService struct {
	storage persistence.MetadataStorage
	deps    node.Dependencies
	cache   *c.Cache
	schemas map[model.NodeType]*jsonschema.Schema
}

func NewMetadataService(storage persistence.MetadataStorage, deps node.Dependencies) (MetadataService, error) {
	schemas, err := compileNodeSchemas()
	if err != nil {
		return nil, err
	}
	return &metadataService{
		storage: storage,
		deps:    deps,
		cache:   c.New(c.NoExpiration, 10*time.Minute),
		schemas: schemas,
	}, nil
}

// SaveWorkflow validates the whole definition before persisting; nothing
// malformed survives to run time.
func (s *metadataService) SaveWorkflow(workflow *model.Workflow) error {
	if err := s.validate(workflow); err != nil {
		return err
	}
	if err := s.storage.SaveWorkflow(workflow); err != nil {
		return err
	}
	s.cache.Delete(workflow.Name)
	return nil
}

func (s *metadataService) validate(workflow *model.Workflow) error {
	if len(workflow.Name) == 0 {
		return model.ValidationError{Message: "workflow name can not be empty"}
	}
	if len(workflow.Nodes) == 0 {
		return model.ValidationError{Message: "workflow has no nodes"}
	}
	if workflow.ErrorHandling != model.ERROR_HANDLING_CONTINUE && workflow.ErrorHandling != model.ERROR_HANDLING_STOP {
		return model.ValidationError{Message: fmt.Sprintf("unknown error handling policy %q", workflow.ErrorHandling)}
	}
	ids := make(map[string]bool, len(workflow.Nodes))
	for _, def := range workflow.Nodes {
		if ids[def.Id] {
			return model.ValidationError{NodeId: def.Id, Message: "duplicate node id"}
		}
		ids[def.Id] = true
		if err := s.validateNode(def); err != nil {
			return err
		}
	}
	if !ids[workflow.TriggerNodeId] {
		return model.ValidationError{Message: fmt.Sprintf("trigger node %q not defined", workflow.TriggerNodeId)}
	}
	for _, edge := range workflow.Edges {
		if !ids[edge.Source] || !ids[edge.Target] {
			return model.ValidationError{Message: fmt.Sprintf("edge %s -> %s references unknown node", edge.Source, edge.Target)}
		}
	}
	return nil
}

func (s *metadataService) validateNode(def model.NodeDef) error {
	schema, ok := s.schemas[def.Type]
	if !ok {
		return model.ValidationError{NodeId: def.Id, Message: fmt.Sprintf("unknown node type %q", def.Type)}
	}
	instance, err := normalizeConfig(def.Config)
	if err != nil {
		return model.ValidationError{NodeId: def.Id, Message: err.Error()}
	}
	if err := schema.Validate(instance); err != nil {
		return model.ValidationError{NodeId: def.Id, Message: err.Error()}
	}
	handler, err := node.Build(def, s.deps)
	if err != nil {
		return err
	}
	return handler.Validate()
}

// normalizeConfig round trips the config through JSON so schema
// validation always sees canonical types, whatever produced the map.
func normalizeConfig(config map[string]any) (any, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

func (s *metadataService) GetFlow(name string) (*CompiledFlow, error) {
	if cached, found := s.cache.Get(name); found {
		return cached.(*CompiledFlow), nil
	}
	workflow, err := s.storage.GetWorkflow(name)
	if err != nil {
		return nil, err
	}
	flow, err := s.compile(workflow)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, flow, c.NoExpiration)
	return flow, nil
}

func (s *metadataService) compile(workflow *model.Workflow) (*CompiledFlow, error) {
	nodes := make(map[string]node.Node, len(workflow.Nodes))
	for _, def := range workflow.Nodes {
		handler, err := node.Build(def, s.deps)
		if err != nil {
			return nil, err
		}
		nodes[def.Id] = handler
	}
	edges := make(map[string][]model.EdgeDef)
	for _, edge := range workflow.Edges {
		edges[edge.Source] = append(edges[edge.Source], edge)
	}
	return &CompiledFlow{
		Definition:    workflow,
		Nodes:         nodes,
		edgesBySource: edges,
	}, nil
}

func (s *metadataService) GetWorkflow(name string) (*model.Workflow, error) {
	return s.storage.GetWorkflow(name)
}

func (s *metadataService) ListWorkflowNames() ([]string, error) {
	return s.storage.ListWorkflowNames()
}

func (s *metadataService) DeleteWorkflow(name string) error {
	if err := s.storage.DeleteWorkflow(name); err != nil {
		return err
	}
	s.cache.Delete(name)
	return nil
}
