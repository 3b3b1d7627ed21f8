package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/statelyvm/stately/pkg/asl"
)

// definitionSchemaJSON is the JSON Schema for state-machine definitions.
// Embedded as a constant to avoid filesystem dependencies. It covers shape
// and enums; cross-state rules (Next targets, field exclusivity) live in the
// semantic stage.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://statelyvm.dev/schemas/definition.json",
  "$ref": "#/$defs/definition",
  "$defs": {
    "definition": {
      "type": "object",
      "required": ["StartAt", "States"],
      "properties": {
        "Comment": { "type": "string" },
        "StartAt": { "type": "string", "minLength": 1 },
        "TimeoutSeconds": { "type": "integer", "minimum": 1 },
        "Version": { "type": "string" },
        "States": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": { "$ref": "#/$defs/state" }
        }
      },
      "additionalProperties": false
    },
    "state": {
      "type": "object",
      "required": ["Type"],
      "properties": {
        "Type": {
          "type": "string",
          "enum": ["Task", "Pass", "Wait", "Choice", "Succeed", "Fail", "Parallel", "Map"]
        },
        "Comment": { "type": "string" },
        "Next": { "type": "string" },
        "End": { "type": "boolean" },
        "InputPath": { "type": ["string", "null"] },
        "OutputPath": { "type": ["string", "null"] },
        "ResultPath": { "type": ["string", "null"] },
        "Parameters": { "type": "object" },
        "Retry": {
          "type": "array",
          "items": { "$ref": "#/$defs/retrier" }
        },
        "Catch": {
          "type": "array",
          "items": { "$ref": "#/$defs/catcher" }
        },
        "Resource": { "type": "string" },
        "TimeoutSeconds": { "type": "integer", "minimum": 1 },
        "HeartbeatSeconds": { "type": "integer", "minimum": 1 },
        "Result": {},
        "Seconds": { "type": "integer" },
        "SecondsPath": { "type": "string" },
        "Timestamp": { "type": "string" },
        "TimestampPath": { "type": "string" },
        "Choices": {
          "type": "array",
          "items": { "type": "object" }
        },
        "Default": { "type": "string" },
        "Branches": {
          "type": "array",
          "items": { "$ref": "#/$defs/definition" }
        },
        "Iterator": { "$ref": "#/$defs/definition" },
        "ItemsPath": { "type": "string" },
        "MaxConcurrency": { "type": "integer", "minimum": 0 },
        "Error": { "type": "string" },
        "Cause": { "type": "string" }
      },
      "additionalProperties": false
    },
    "retrier": {
      "type": "object",
      "required": ["ErrorEquals"],
      "properties": {
        "ErrorEquals": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "string", "minLength": 1 }
        },
        "IntervalSeconds": { "type": "integer", "minimum": 1 },
        "MaxAttempts": { "type": "integer", "minimum": 0 },
        "BackoffRate": { "type": "number", "minimum": 1.0 }
      },
      "additionalProperties": false
    },
    "catcher": {
      "type": "object",
      "required": ["ErrorEquals", "Next"],
      "properties": {
        "ErrorEquals": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "string", "minLength": 1 }
        },
        "ResultPath": { "type": ["string", "null"] },
        "Next": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func definitionSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(definitionSchemaJSON)))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal definition schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("definition.json", doc); err != nil {
			schemaErr = fmt.Errorf("add definition schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("definition.json")
	})
	return compiledSchema, schemaErr
}

// validateStructural checks a raw definition document against the embedded
// JSON Schema. The document is round-tripped through encoding/json so the
// validator sees exactly what was parsed.
func validateStructural(def *asl.Definition) *asl.ValidationResult {
	result := &asl.ValidationResult{}

	schema, err := definitionSchema()
	if err != nil {
		result.AddError("/", asl.CodeSchema, err.Error())
		return result
	}

	raw, err := json.Marshal(def)
	if err != nil {
		result.AddError("/", asl.CodeSchema, fmt.Sprintf("marshal definition: %s", err))
		return result
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		result.AddError("/", asl.CodeSchema, fmt.Sprintf("reparse definition: %s", err))
		return result
	}

	if err := schema.Validate(doc); err != nil {
		var vErr *jsonschema.ValidationError
		if errors.As(err, &vErr) {
			for _, cause := range flattenCauses(vErr) {
				result.AddError(instancePath(cause), asl.CodeSchema, cause.Error())
			}
		} else {
			result.AddError("/", asl.CodeSchema, err.Error())
		}
	}
	return result
}

// flattenCauses walks a ValidationError tree to its leaf causes.
func flattenCauses(err *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(err.Causes) == 0 {
		return []*jsonschema.ValidationError{err}
	}
	var leaves []*jsonschema.ValidationError
	for _, c := range err.Causes {
		leaves = append(leaves, flattenCauses(c)...)
	}
	return leaves
}

func instancePath(err *jsonschema.ValidationError) string {
	if len(err.InstanceLocation) == 0 {
		return "/"
	}
	return "/" + strings.Join(err.InstanceLocation, "/")
}
