// Package diagram renders state-machine definitions as Mermaid flowcharts.
// It works on the definition alone; no execution state is required.
package diagram

import (
	"sort"
	"strconv"
	"strings"

	"github.com/statelyvm/stately/pkg/asl"
)

// Kind classifies a graph node by its state type.
type Kind string

const (
	KindTask     Kind = "task"
	KindPass     Kind = "pass"
	KindWait     Kind = "wait"
	KindChoice   Kind = "choice"
	KindSucceed  Kind = "succeed"
	KindFail     Kind = "fail"
	KindParallel Kind = "parallel"
	KindMap      Kind = "map"
	KindStart    Kind = "start"
)

// Graph is the renderer-independent picture of one definition. Parallel
// branches and Map iterators appear as nested sub-graphs on their node.
type Graph struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one state plus its nested branches, if any.
type Node struct {
	ID       string
	Label    string
	Kind     Kind
	Children []*SubGraph
}

// SubGraph is a labeled nested graph (a Parallel branch or a Map iterator).
type SubGraph struct {
	Label string
	Graph *Graph
}

// Edge is one transition. Label carries the condition for Choice edges and
// the matched error names for Catch edges.
type Edge struct {
	From  string
	To    string
	Label string
}

// StartID is the virtual entry node every graph begins with.
const StartID = "__start__"

// Build constructs the graph for a definition. Node order follows the
// transition graph from StartAt; unreachable states are appended sorted so
// the output is deterministic.
func Build(title string, def *asl.Definition) *Graph {
	if title == "" {
		title = def.Comment
	}
	g := &Graph{Title: title}

	g.Nodes = append(g.Nodes, &Node{ID: StartID, Label: "Start", Kind: KindStart})
	g.Edges = append(g.Edges, Edge{From: StartID, To: def.StartAt})

	visited := make(map[string]bool, len(def.States))
	queue := []string{def.StartAt}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		st, ok := def.States[name]
		if !ok {
			continue
		}
		visited[name] = true
		queue = append(queue, g.addState(name, st)...)
	}

	var orphans []string
	for name := range def.States {
		if !visited[name] {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	for _, name := range orphans {
		g.addState(name, def.States[name])
	}
	return g
}

// addState appends the node and edges for one state and returns the names of
// its successors.
func (g *Graph) addState(name string, st *asl.State) []string {
	node := &Node{ID: name, Label: stateLabel(name, st), Kind: stateKind(st)}

	switch st.Type {
	case asl.StateTypeParallel:
		for i := range st.Branches {
			node.Children = append(node.Children, &SubGraph{
				Label: branchLabel(i),
				Graph: Build("", &st.Branches[i]),
			})
		}
	case asl.StateTypeMap:
		if st.Iterator != nil {
			node.Children = append(node.Children, &SubGraph{
				Label: "iterator",
				Graph: Build("", st.Iterator),
			})
		}
	}
	g.Nodes = append(g.Nodes, node)

	var next []string
	link := func(to, label string) {
		g.Edges = append(g.Edges, Edge{From: name, To: to, Label: label})
		next = append(next, to)
	}

	if st.Type == asl.StateTypeChoice {
		for i, rule := range st.Choices {
			link(rule.Next, choiceLabel(i, &rule))
		}
		if st.Default != "" {
			link(st.Default, "default")
		}
	} else if st.Next != "" {
		link(st.Next, "")
	}
	for _, c := range st.Catch {
		link(c.Next, "catch "+joinErrorNames(c.ErrorEquals))
	}
	return next
}

func branchLabel(i int) string {
	return "branch " + strconv.Itoa(i)
}

func choiceLabel(i int, rule *asl.ChoiceRule) string {
	if rule.Variable != "" {
		return rule.Variable
	}
	return "rule " + strconv.Itoa(i)
}

func joinErrorNames(names []string) string {
	return strings.Join(names, ",")
}

func stateKind(st *asl.State) Kind {
	switch st.Type {
	case asl.StateTypeTask:
		return KindTask
	case asl.StateTypeWait:
		return KindWait
	case asl.StateTypeChoice:
		return KindChoice
	case asl.StateTypeSucceed:
		return KindSucceed
	case asl.StateTypeFail:
		return KindFail
	case asl.StateTypeParallel:
		return KindParallel
	case asl.StateTypeMap:
		return KindMap
	default:
		return KindPass
	}
}

func stateLabel(name string, st *asl.State) string {
	if st.Type == asl.StateTypeTask && st.Resource != "" {
		return name + "\n" + st.Resource
	}
	return name
}
