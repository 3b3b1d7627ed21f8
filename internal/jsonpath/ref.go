package jsonpath

import (
	"strings"

	"github.com/Jeffail/gabs/v2"

	"github.com/statelyvm/stately/pkg/asl"
)

// SetRef writes value into a copy of doc at the location named by the
// reference path ref. "$" replaces the document wholesale. Reference paths
// are the restricted write-side subset: dot-separated field names only.
// The input document is never mutated.
func SetRef(doc any, ref string, value any) (any, error) {
	fields, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return value, nil
	}

	var container *gabs.Container
	switch d := doc.(type) {
	case nil:
		container = gabs.New()
	case map[string]any:
		container = gabs.Wrap(Clone(d))
	default:
		return nil, asl.NewStatesErrorf(asl.ErrorRuntime,
			"reference path %q cannot be applied to a non-object document", ref)
	}

	if _, err := container.Set(value, fields...); err != nil {
		return nil, asl.NewStatesErrorf(asl.ErrorRuntime,
			"reference path %q cannot be written: %s", ref, err.Error()).WithWrapped(err)
	}
	return container.Data(), nil
}

// splitRef parses a reference path into its field names. Returns an empty
// slice for "$".
func splitRef(ref string) ([]string, error) {
	if ref == "$" {
		return nil, nil
	}
	if !strings.HasPrefix(ref, "$.") {
		return nil, asl.NewStatesErrorf(asl.ErrorRuntime, "reference path %q must start with '$.'", ref)
	}
	if strings.ContainsAny(ref, "[]") {
		return nil, asl.NewStatesErrorf(asl.ErrorRuntime, "reference path %q may not use indices", ref)
	}
	fields := strings.Split(ref[2:], ".")
	for _, f := range fields {
		if f == "" {
			return nil, asl.NewStatesErrorf(asl.ErrorRuntime, "reference path %q has an empty field segment", ref)
		}
	}
	return fields, nil
}

// Clone deep-copies a decoded JSON document. Branch runners clone the working
// document so no Environment is ever shared across concurrent branches.
func Clone(doc any) any {
	switch d := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(d))
		for k, v := range d {
			out[k] = Clone(v)
		}
		return out
	case []any:
		out := make([]any, len(d))
		for i, v := range d {
			out[i] = Clone(v)
		}
		return out
	default:
		return d
	}
}
