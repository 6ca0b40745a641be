package metadata

import (
	"fmt"
	"strings"

	"github.com/marchworks/dealflow/model"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Per-type config schemas, checked at flow save time. String fields stay
// loose on content since they may hold {{path}} tokens; structure and
// numeric ranges are enforced here.
var nodeConfigSchemas = map[model.NodeType]string{
	model.NODE_TYPE_CODE_EXEC: `{
		"type": "object",
		"required": ["code"],
		"properties": {
			"code": {"type": "string", "minLength": 1},
			"timeoutMs": {"type": "integer", "minimum": 100, "maximum": 30000}
		}
	}`,
	model.NODE_TYPE_HTTP_CALL: `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"method": {"type": "string"},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}},
			"body": {"type": "string"}
		}
	}`,
	model.NODE_TYPE_CONDITIONAL: `{
		"type": "object",
		"required": ["expression"],
		"properties": {
			"expression": {"type": "string", "minLength": 1}
		}
	}`,
	model.NODE_TYPE_MESSAGE_SEND: `{
		"type": "object",
		"required": ["to", "text"],
		"properties": {
			"channel": {"type": "string"},
			"to": {"type": "string", "minLength": 1},
			"text": {"type": "string", "minLength": 1}
		}
	}`,
	model.NODE_TYPE_PIPELINE_UPDATE: `{
		"type": "object",
		"required": ["dealId", "targetStageId"],
		"properties": {
			"dealId": {"type": "string", "minLength": 1},
			"targetPipelineId": {"type": "string"},
			"targetStageId": {"type": "string", "minLength": 1},
			"revert": {
				"type": "object",
				"required": ["toStageId", "amount", "unit"],
				"properties": {
					"toStageId": {"type": "string", "minLength": 1},
					"amount": {"type": "integer", "minimum": 1},
					"unit": {"enum": ["hours", "days"]},
					"onlyIfNoActivity": {"type": "boolean"},
					"ignoreOwnFlowActivity": {"type": "boolean"}
				}
			}
		}
	}`,
	model.NODE_TYPE_TAG_MANAGE: `{
		"type": "object",
		"required": ["dealId"],
		"properties": {
			"dealId": {"type": "string", "minLength": 1},
			"add": {"type": "array", "items": {"type": "string"}},
			"remove": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	model.NODE_TYPE_TRANSLATE: `{
		"type": "object",
		"required": ["text", "targetLang"],
		"properties": {
			"text": {"type": "string", "minLength": 1},
			"targetLang": {"type": "string", "minLength": 1},
			"separateMessage": {"type": "boolean"}
		}
	}`,
	model.NODE_TYPE_FOLLOW_UP: `{
		"type": "object",
		"required": ["dealId", "message", "amount", "unit"],
		"properties": {
			"dealId": {"type": "string", "minLength": 1},
			"message": {"type": "string", "minLength": 1},
			"amount": {"type": "integer", "minimum": 1},
			"unit": {"enum": ["hours", "days"]}
		}
	}`,
}

func compileNodeSchemas() (map[model.NodeType]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[model.NodeType]*jsonschema.Schema, len(nodeConfigSchemas))
	for nodeType, raw := range nodeConfigSchemas {
		name := fmt.Sprintf("%s.json", nodeType)
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("schema for %s not parseable: %w", nodeType, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, err
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, err
		}
		compiled[nodeType] = schema
	}
	return compiled, nil
}
