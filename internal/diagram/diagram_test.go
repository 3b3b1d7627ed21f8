package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statelyvm/stately/pkg/asl"
)

func parseDef(t *testing.T, src string) *asl.Definition {
	t.Helper()
	def, err := asl.ParseDefinition([]byte(src))
	require.NoError(t, err)
	return def
}

func findNode(g *Graph, id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// --- Tests ---

func TestBuildLinearChain(t *testing.T) {
	def := parseDef(t, `{
		"Comment": "order flow",
		"StartAt": "Fetch",
		"States": {
			"Fetch": {"Type": "Task", "Resource": "builtin:echo", "Next": "Done"},
			"Done": {"Type": "Succeed"}
		}
	}`)

	g := Build("", def)
	assert.Equal(t, "order flow", g.Title)

	require.Len(t, g.Nodes, 3)
	assert.Equal(t, StartID, g.Nodes[0].ID)
	assert.Equal(t, "Fetch", g.Nodes[1].ID)
	assert.Equal(t, KindTask, g.Nodes[1].Kind)
	assert.Equal(t, "Done", g.Nodes[2].ID)
	assert.Equal(t, KindSucceed, g.Nodes[2].Kind)

	assert.Contains(t, g.Edges, Edge{From: StartID, To: "Fetch"})
	assert.Contains(t, g.Edges, Edge{From: "Fetch", To: "Done"})
}

func TestBuildChoiceAndCatchEdges(t *testing.T) {
	def := parseDef(t, `{
		"StartAt": "Route",
		"States": {
			"Route": {
				"Type": "Choice",
				"Choices": [{"Variable": "$.n", "NumericGreaterThan": 0, "Next": "Work"}],
				"Default": "Skip"
			},
			"Work": {
				"Type": "Task",
				"Resource": "builtin:echo",
				"Catch": [{"ErrorEquals": ["States.ALL"], "Next": "Skip"}],
				"End": true
			},
			"Skip": {"Type": "Succeed"}
		}
	}`)

	g := Build("", def)
	assert.Contains(t, g.Edges, Edge{From: "Route", To: "Work", Label: "$.n"})
	assert.Contains(t, g.Edges, Edge{From: "Route", To: "Skip", Label: "default"})
	assert.Contains(t, g.Edges, Edge{From: "Work", To: "Skip", Label: "catch States.ALL"})
}

func TestBuildNestedBranches(t *testing.T) {
	def := parseDef(t, `{
		"StartAt": "Fan",
		"States": {
			"Fan": {
				"Type": "Parallel",
				"Branches": [
					{"StartAt": "A", "States": {"A": {"Type": "Pass", "End": true}}},
					{"StartAt": "B", "States": {"B": {"Type": "Pass", "End": true}}}
				],
				"Next": "Each"
			},
			"Each": {
				"Type": "Map",
				"Iterator": {"StartAt": "I", "States": {"I": {"Type": "Pass", "End": true}}},
				"End": true
			}
		}
	}`)

	g := Build("", def)

	fan := findNode(g, "Fan")
	require.NotNil(t, fan)
	assert.Equal(t, KindParallel, fan.Kind)
	require.Len(t, fan.Children, 2)
	assert.Equal(t, "branch 0", fan.Children[0].Label)
	assert.NotNil(t, findNode(fan.Children[0].Graph, "A"))

	each := findNode(g, "Each")
	require.NotNil(t, each)
	require.Len(t, each.Children, 1)
	assert.Equal(t, "iterator", each.Children[0].Label)
	assert.NotNil(t, findNode(each.Children[0].Graph, "I"))
}

func TestBuildAppendsUnreachableSorted(t *testing.T) {
	def := parseDef(t, `{
		"StartAt": "Main",
		"States": {
			"Main": {"Type": "Succeed"},
			"Orphan2": {"Type": "Succeed"},
			"Orphan1": {"Type": "Succeed"}
		}
	}`)

	g := Build("", def)
	require.Len(t, g.Nodes, 4)
	assert.Equal(t, "Orphan1", g.Nodes[2].ID)
	assert.Equal(t, "Orphan2", g.Nodes[3].ID)
}

func TestRenderMermaid(t *testing.T) {
	def := parseDef(t, `{
		"StartAt": "Route",
		"States": {
			"Route": {
				"Type": "Choice",
				"Choices": [{"Variable": "$.go", "BooleanEquals": true, "Next": "Hold"}],
				"Default": "Stop"
			},
			"Hold": {"Type": "Wait", "Seconds": 5, "Next": "Stop"},
			"Stop": {"Type": "Succeed"}
		}
	}`)

	out := RenderMermaid(Build("ship it", def))

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% ship it")
	assert.Contains(t, out, `Route{"Route"}`)
	assert.Contains(t, out, `Hold(["Hold"])`)
	assert.Contains(t, out, `Stop(("Stop"))`)
	assert.Contains(t, out, `Route -->|$.go| Hold`)
	assert.Contains(t, out, `Route -->|default| Stop`)
}

func TestRenderMermaidNestedSubgraph(t *testing.T) {
	def := parseDef(t, `{
		"StartAt": "Fan",
		"States": {
			"Fan": {
				"Type": "Parallel",
				"Branches": [
					{"StartAt": "A", "States": {"A": {"Type": "Pass", "End": true}}}
				],
				"End": true
			}
		}
	}`)

	out := RenderMermaid(Build("", def))
	assert.Contains(t, out, `subgraph Fan_branch_0_["Fan: branch 0"]`)
	assert.Contains(t, out, `Fan_branch_0_A["A"]`)
	assert.Contains(t, out, `Fan[["Fan"]]`)
}
