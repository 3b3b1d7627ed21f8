package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/statelyvm/stately/pkg/asl"
)

// validateSemantic performs the cross-state analysis JSON Schema cannot
// express: transition targets, Next/End exclusivity, wait-field exclusivity,
// choice rule shape, and recursive sub-program validation. Cyclic Next graphs
// are legal; there is deliberately no cycle check.
func validateSemantic(def *asl.Definition) *asl.ValidationResult {
	result := &asl.ValidationResult{}
	validateProgram(def, "", result)
	return result
}

func validateProgram(def *asl.Definition, base string, result *asl.ValidationResult) {
	if _, ok := def.States[def.StartAt]; !ok {
		result.AddError(base+"StartAt", asl.CodeDefinition,
			fmt.Sprintf("StartAt %q does not name a state", def.StartAt))
	}

	names := make([]string, 0, len(def.States))
	for name := range def.States {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		validateState(def, name, def.States[name], base, result)
	}

	markUnreachable(def, base, names, result)
}

func validateState(def *asl.Definition, name string, st *asl.State, base string, result *asl.ValidationResult) {
	path := func(field string) string { return base + "States." + name + "." + field }

	checkTransitions(def, name, st, base, result)
	checkPaths(st, name, base, result)

	for i, r := range st.Retry {
		if len(r.ErrorEquals) == 0 {
			result.AddError(path(fmt.Sprintf("Retry[%d].ErrorEquals", i)), asl.CodeDefinition,
				"ErrorEquals must not be empty")
		}
	}
	for i, c := range st.Catch {
		if len(c.ErrorEquals) == 0 {
			result.AddError(path(fmt.Sprintf("Catch[%d].ErrorEquals", i)), asl.CodeDefinition,
				"ErrorEquals must not be empty")
		}
		if _, ok := def.States[c.Next]; !ok {
			result.AddError(path(fmt.Sprintf("Catch[%d].Next", i)), asl.CodeDefinition,
				fmt.Sprintf("Next %q does not name a state", c.Next))
		}
	}
	if len(st.Retry) > 0 || len(st.Catch) > 0 {
		switch st.Type {
		case asl.StateTypeTask, asl.StateTypeWait, asl.StateTypeParallel, asl.StateTypeMap:
		default:
			result.AddError(path("Retry"), asl.CodeDefinition,
				fmt.Sprintf("Retry/Catch are not allowed on %s states", st.Type))
		}
	}

	switch st.Type {
	case asl.StateTypeTask:
		if st.Resource == "" {
			result.AddError(path("Resource"), asl.CodeDefinition, "Task states require a Resource")
		}

	case asl.StateTypeWait:
		set := 0
		if st.Seconds != nil {
			set++
			if *st.Seconds < 0 {
				result.AddError(path("Seconds"), asl.CodeDefinition, "Seconds must be non-negative")
			}
		}
		for _, s := range []string{st.SecondsPath, st.Timestamp, st.TimestampPath} {
			if s != "" {
				set++
			}
		}
		if set != 1 {
			result.AddError(path("Seconds"), asl.CodeDefinition,
				"Wait states require exactly one of Seconds, SecondsPath, Timestamp, TimestampPath")
		}

	case asl.StateTypeChoice:
		if len(st.Choices) == 0 && st.Default == "" {
			result.AddError(path("Choices"), asl.CodeDefinition,
				"Choice states require at least one rule or a Default")
		}
		if st.Default != "" {
			if _, ok := def.States[st.Default]; !ok {
				result.AddError(path("Default"), asl.CodeDefinition,
					fmt.Sprintf("Default %q does not name a state", st.Default))
			}
		}
		for i := range st.Choices {
			validateChoiceRule(def, &st.Choices[i], true, path(fmt.Sprintf("Choices[%d]", i)), result)
		}

	case asl.StateTypeParallel:
		if len(st.Branches) == 0 {
			result.AddError(path("Branches"), asl.CodeDefinition,
				"Parallel states require at least one branch")
		}
		for i := range st.Branches {
			validateProgram(&st.Branches[i], path(fmt.Sprintf("Branches[%d].", i)), result)
		}

	case asl.StateTypeMap:
		if st.Iterator == nil {
			result.AddError(path("Iterator"), asl.CodeDefinition, "Map states require an Iterator")
		} else {
			validateProgram(st.Iterator, path("Iterator."), result)
		}

	case asl.StateTypeFail:
		if st.Error == "" {
			result.AddWarning(path("Error"), asl.CodeDefinition, "Fail state has no Error name")
		}
	}
}

// checkTransitions enforces the exactly-one-of {Next, terminal} invariant.
func checkTransitions(def *asl.Definition, name string, st *asl.State, base string, result *asl.ValidationResult) {
	path := base + "States." + name

	switch st.Type {
	case asl.StateTypeSucceed, asl.StateTypeFail:
		if st.Next != "" || st.End {
			result.AddError(path+".Next", asl.CodeDefinition,
				fmt.Sprintf("%s states may not declare Next or End", st.Type))
		}
		return
	case asl.StateTypeChoice:
		if st.Next != "" || st.End {
			result.AddError(path+".Next", asl.CodeDefinition,
				"Choice states route through their rules, not Next or End")
		}
		return
	}

	hasNext := st.Next != ""
	if hasNext == st.End {
		result.AddError(path+".Next", asl.CodeDefinition,
			"state requires exactly one of Next or End")
	}
	if hasNext {
		if _, ok := def.States[st.Next]; !ok {
			result.AddError(path+".Next", asl.CodeDefinition,
				fmt.Sprintf("Next %q does not name a state", st.Next))
		}
	}
}

func validateChoiceRule(def *asl.Definition, rule *asl.ChoiceRule, topLevel bool, path string, result *asl.ValidationResult) {
	if topLevel {
		if rule.Next == "" {
			result.AddError(path+".Next", asl.CodeDefinition, "top-level choice rules require Next")
		} else if _, ok := def.States[rule.Next]; !ok {
			result.AddError(path+".Next", asl.CodeDefinition,
				fmt.Sprintf("Next %q does not name a state", rule.Next))
		}
	} else if rule.Next != "" {
		result.AddError(path+".Next", asl.CodeDefinition, "nested choice rules may not declare Next")
	}

	comparisons := countComparisons(rule)
	combinators := 0
	if len(rule.And) > 0 {
		combinators++
	}
	if len(rule.Or) > 0 {
		combinators++
	}
	if rule.Not != nil {
		combinators++
	}

	if comparisons+combinators != 1 {
		result.AddError(path, asl.CodeDefinition,
			"choice rule requires exactly one comparison or combinator")
		return
	}

	if comparisons == 1 {
		if rule.Variable == "" {
			result.AddError(path+".Variable", asl.CodeDefinition, "comparison rules require Variable")
		}
		return
	}

	if rule.Variable != "" {
		result.AddError(path+".Variable", asl.CodeDefinition, "combinator rules may not declare Variable")
	}
	for i := range rule.And {
		validateChoiceRule(def, &rule.And[i], false, fmt.Sprintf("%s.And[%d]", path, i), result)
	}
	for i := range rule.Or {
		validateChoiceRule(def, &rule.Or[i], false, fmt.Sprintf("%s.Or[%d]", path, i), result)
	}
	if rule.Not != nil {
		validateChoiceRule(def, rule.Not, false, path+".Not", result)
	}
}

func countComparisons(r *asl.ChoiceRule) int {
	n := 0
	for _, set := range []bool{
		r.StringEquals != nil, r.StringLessThan != nil, r.StringGreaterThan != nil,
		r.StringLessThanEquals != nil, r.StringGreaterThanEquals != nil,
		r.NumericEquals != nil, r.NumericLessThan != nil, r.NumericGreaterThan != nil,
		r.NumericLessThanEquals != nil, r.NumericGreaterThanEquals != nil,
		r.BooleanEquals != nil,
		r.TimestampEquals != nil, r.TimestampLessThan != nil, r.TimestampGreaterThan != nil,
		r.TimestampLessThanEquals != nil, r.TimestampGreaterThanEquals != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// checkPaths rejects path fields that cannot possibly be valid expressions.
func checkPaths(st *asl.State, name, base string, result *asl.ValidationResult) {
	check := func(field, value string) {
		if value != "" && !strings.HasPrefix(value, "$") {
			result.AddError(base+"States."+name+"."+field, asl.CodeDefinition,
				fmt.Sprintf("%s must start with '$'", field))
		}
	}
	if st.InputPath != nil {
		check("InputPath", *st.InputPath)
	}
	if st.OutputPath != nil {
		check("OutputPath", *st.OutputPath)
	}
	if st.ResultPath != nil {
		check("ResultPath", *st.ResultPath)
	}
	check("SecondsPath", st.SecondsPath)
	check("TimestampPath", st.TimestampPath)
	check("ItemsPath", st.ItemsPath)
}

// markUnreachable warns about states no transition can reach.
func markUnreachable(def *asl.Definition, base string, names []string, result *asl.ValidationResult) {
	reachable := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if reachable[name] {
			return
		}
		st, ok := def.States[name]
		if !ok {
			return
		}
		reachable[name] = true
		if st.Next != "" {
			visit(st.Next)
		}
		if st.Default != "" {
			visit(st.Default)
		}
		for _, rule := range st.Choices {
			if rule.Next != "" {
				visit(rule.Next)
			}
		}
		for _, c := range st.Catch {
			visit(c.Next)
		}
	}
	visit(def.StartAt)

	for _, name := range names {
		if !reachable[name] {
			result.AddWarning(base+"States."+name, asl.CodeDefinition, "state is unreachable")
		}
	}
}
