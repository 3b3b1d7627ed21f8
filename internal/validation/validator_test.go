package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statelyvm/stately/pkg/asl"
)

func parse(t *testing.T, src string) *asl.Definition {
	t.Helper()
	def, err := asl.ParseDefinition([]byte(src))
	require.NoError(t, err)
	return def
}

func firstErrorPath(r *asl.ValidationResult) string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Path
}

// --- Tests ---

func TestValidDefinition(t *testing.T) {
	def := parse(t, `{
		"StartAt": "Fetch",
		"States": {
			"Fetch": {
				"Type": "Task",
				"Resource": "builtin:echo",
				"Retry": [{"ErrorEquals": ["States.ALL"]}],
				"Catch": [{"ErrorEquals": ["States.ALL"], "Next": "Done"}],
				"Next": "Route"
			},
			"Route": {
				"Type": "Choice",
				"Choices": [{"Variable": "$.ok", "BooleanEquals": true, "Next": "Done"}],
				"Default": "Done"
			},
			"Done": {"Type": "Succeed"}
		}
	}`)

	result := Validate(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.NoError(t, ValidateDefinition(def))
}

func TestNilDefinition(t *testing.T) {
	result := Validate(nil)
	assert.False(t, result.Valid())
}

func TestStructuralRejectsUnknownField(t *testing.T) {
	def := parse(t, `{
		"StartAt": "A",
		"States": {"A": {"Type": "Pass", "End": true, "Bogus": 1}}
	}`)

	result := Validate(def)
	// Unknown fields never survive parsing: State has no Bogus member, so the
	// re-serialized document is clean. The schema still guards direct misuse.
	assert.True(t, result.Valid())
}

func TestStructuralRejectsBadType(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "A",
		States:  map[string]*asl.State{"A": {Type: "Teleport", End: true}},
	})
	require.False(t, result.Valid())
	assert.Equal(t, asl.CodeSchema, result.Errors[0].Code)
}

func TestStructuralRejectsMissingStartAt(t *testing.T) {
	result := Validate(&asl.Definition{
		States: map[string]*asl.State{"A": {Type: asl.StateTypePass, End: true}},
	})
	assert.False(t, result.Valid())
}

func TestStartAtMustNameAState(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "Ghost",
		States:  map[string]*asl.State{"A": {Type: asl.StateTypePass, End: true}},
	})
	require.False(t, result.Valid())
	assert.Contains(t, firstErrorPath(result), "StartAt")
}

func TestNextMustNameAState(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "A",
		States: map[string]*asl.State{
			"A": {Type: asl.StateTypePass, Next: "Ghost"},
		},
	})
	require.False(t, result.Valid())
	assert.Contains(t, firstErrorPath(result), "States.A.Next")
}

func TestExactlyOneOfNextOrEnd(t *testing.T) {
	// Neither.
	result := Validate(&asl.Definition{
		StartAt: "A",
		States:  map[string]*asl.State{"A": {Type: asl.StateTypePass}},
	})
	assert.False(t, result.Valid())

	// Both.
	result = Validate(&asl.Definition{
		StartAt: "A",
		States: map[string]*asl.State{
			"A": {Type: asl.StateTypePass, Next: "B", End: true},
			"B": {Type: asl.StateTypePass, End: true},
		},
	})
	assert.False(t, result.Valid())
}

func TestTerminalStatesRejectNext(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "A",
		States: map[string]*asl.State{
			"A": {Type: asl.StateTypeSucceed, Next: "B"},
			"B": {Type: asl.StateTypePass, End: true},
		},
	})
	assert.False(t, result.Valid())
}

func TestTaskRequiresResource(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "A",
		States:  map[string]*asl.State{"A": {Type: asl.StateTypeTask, End: true}},
	})
	require.False(t, result.Valid())
	assert.Contains(t, firstErrorPath(result), "Resource")
}

func TestWaitFieldExclusivity(t *testing.T) {
	seconds := 5

	// None of the four.
	result := Validate(&asl.Definition{
		StartAt: "W",
		States:  map[string]*asl.State{"W": {Type: asl.StateTypeWait, End: true}},
	})
	assert.False(t, result.Valid())

	// Two of the four.
	result = Validate(&asl.Definition{
		StartAt: "W",
		States: map[string]*asl.State{
			"W": {Type: asl.StateTypeWait, Seconds: &seconds, SecondsPath: "$.n", End: true},
		},
	})
	assert.False(t, result.Valid())

	// Exactly one is fine; zero is a legal literal.
	zero := 0
	result = Validate(&asl.Definition{
		StartAt: "W",
		States: map[string]*asl.State{
			"W": {Type: asl.StateTypeWait, Seconds: &zero, End: true},
		},
	})
	assert.True(t, result.Valid())

	// Negative literal is rejected at compile time.
	neg := -1
	result = Validate(&asl.Definition{
		StartAt: "W",
		States: map[string]*asl.State{
			"W": {Type: asl.StateTypeWait, Seconds: &neg, End: true},
		},
	})
	assert.False(t, result.Valid())
}

func TestChoiceRules(t *testing.T) {
	tru := true

	// No rules and no default.
	result := Validate(&asl.Definition{
		StartAt: "C",
		States:  map[string]*asl.State{"C": {Type: asl.StateTypeChoice}},
	})
	assert.False(t, result.Valid())

	// Top-level rule without Next.
	result = Validate(&asl.Definition{
		StartAt: "C",
		States: map[string]*asl.State{
			"C": {Type: asl.StateTypeChoice, Choices: []asl.ChoiceRule{
				{Variable: "$.ok", BooleanEquals: &tru},
			}},
			"D": {Type: asl.StateTypeSucceed},
		},
	})
	assert.False(t, result.Valid())

	// Nested rule with Next.
	result = Validate(&asl.Definition{
		StartAt: "C",
		States: map[string]*asl.State{
			"C": {Type: asl.StateTypeChoice, Choices: []asl.ChoiceRule{
				{Not: &asl.ChoiceRule{Variable: "$.ok", BooleanEquals: &tru, Next: "D"}, Next: "D"},
			}},
			"D": {Type: asl.StateTypeSucceed},
		},
	})
	assert.False(t, result.Valid())

	// Rule with two comparisons.
	s := "x"
	result = Validate(&asl.Definition{
		StartAt: "C",
		States: map[string]*asl.State{
			"C": {Type: asl.StateTypeChoice, Choices: []asl.ChoiceRule{
				{Variable: "$.v", StringEquals: &s, BooleanEquals: &tru, Next: "D"},
			}},
			"D": {Type: asl.StateTypeSucceed},
		},
	})
	assert.False(t, result.Valid())

	// Combinator with Variable.
	result = Validate(&asl.Definition{
		StartAt: "C",
		States: map[string]*asl.State{
			"C": {Type: asl.StateTypeChoice, Choices: []asl.ChoiceRule{
				{Variable: "$.v", And: []asl.ChoiceRule{
					{Variable: "$.a", BooleanEquals: &tru},
				}, Next: "D"},
			}},
			"D": {Type: asl.StateTypeSucceed},
		},
	})
	assert.False(t, result.Valid())
}

func TestParallelBranchesValidatedRecursively(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "P",
		States: map[string]*asl.State{
			"P": {Type: asl.StateTypeParallel, End: true, Branches: []asl.Definition{
				{StartAt: "Ghost", States: map[string]*asl.State{
					"Inner": {Type: asl.StateTypePass, End: true},
				}},
			}},
		},
	})
	require.False(t, result.Valid())
	assert.Contains(t, firstErrorPath(result), "Branches[0]")

	// No branches at all.
	result = Validate(&asl.Definition{
		StartAt: "P",
		States:  map[string]*asl.State{"P": {Type: asl.StateTypeParallel, End: true}},
	})
	assert.False(t, result.Valid())
}

func TestMapRequiresIterator(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "M",
		States:  map[string]*asl.State{"M": {Type: asl.StateTypeMap, End: true}},
	})
	require.False(t, result.Valid())
	assert.Contains(t, firstErrorPath(result), "Iterator")
}

func TestRetryCatchOnlyOnEligibleStates(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "A",
		States: map[string]*asl.State{
			"A": {Type: asl.StateTypePass, End: true,
				Retry: []asl.Retrier{{ErrorEquals: []string{asl.ErrorWildcard}}}},
		},
	})
	assert.False(t, result.Valid())
}

func TestFailWithoutErrorNameWarns(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "F",
		States:  map[string]*asl.State{"F": {Type: asl.StateTypeFail}},
	})
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Path, "States.F.Error")
}

func TestUnreachableStateWarns(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "A",
		States: map[string]*asl.State{
			"A":    {Type: asl.StateTypePass, End: true},
			"Dead": {Type: asl.StateTypePass, End: true},
		},
	})
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Path, "States.Dead")
}

func TestCyclicGraphIsLegal(t *testing.T) {
	result := Validate(&asl.Definition{
		StartAt: "A",
		States: map[string]*asl.State{
			"A": {Type: asl.StateTypePass, Next: "B"},
			"B": {Type: asl.StateTypePass, Next: "A"},
		},
	})
	assert.True(t, result.Valid())
}

func TestPathFieldsMustStartWithDollar(t *testing.T) {
	bad := "input.field"
	result := Validate(&asl.Definition{
		StartAt: "A",
		States: map[string]*asl.State{
			"A": {Type: asl.StateTypePass, InputPath: &bad, End: true},
		},
	})
	require.False(t, result.Valid())
	assert.Contains(t, firstErrorPath(result), "InputPath")
}
