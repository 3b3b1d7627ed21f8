package validation

import "github.com/statelyvm/stately/pkg/asl"

// Validate runs the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (transition targets, field exclusivity, recursive sub-programs)
// Structural errors short-circuit: the semantic stage is skipped.
func Validate(def *asl.Definition) *asl.ValidationResult {
	if def == nil {
		r := &asl.ValidationResult{}
		r.AddError("/", asl.CodeDefinition, "definition is nil")
		return r
	}

	result := validateStructural(def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def))
	return result
}

// ValidateDefinition returns a DefinitionError when the definition is
// invalid, nil otherwise.
func ValidateDefinition(def *asl.Definition) error {
	return Validate(def).ToError()
}
