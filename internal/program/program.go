// Package program builds the immutable, validated representation of a parsed
// state-machine definition. A Program is constructed once per definition and
// shared read-only across all executions of that definition.
package program

import (
	"time"

	"github.com/statelyvm/stately/internal/validation"
	"github.com/statelyvm/stately/pkg/asl"
)

// Program is a validated mapping of state name to node plus a start pointer.
// Parallel branches and the Map iterator are compiled recursively into
// sub-Programs.
type Program struct {
	start   string
	comment string
	version string
	timeout time.Duration
	nodes   map[string]*Node
	def     *asl.Definition
}

// Node is one compiled state. Branches is populated for Parallel states and
// Iterator for Map states; both are nil otherwise.
type Node struct {
	Name     string
	State    *asl.State
	Branches []*Program
	Iterator *Program
}

// Compile validates def and builds a Program. On any violation it returns a
// DefinitionError naming the offending state and field; no partially-built
// Program is ever returned.
func Compile(def *asl.Definition) (*Program, error) {
	if err := validation.ValidateDefinition(def); err != nil {
		return nil, err
	}
	return build(def), nil
}

// Parse decodes a raw definition document and compiles it.
func Parse(src []byte) (*Program, error) {
	def, err := asl.ParseDefinition(src)
	if err != nil {
		return nil, err
	}
	return Compile(def)
}

// build assumes def has already passed validation (recursively).
func build(def *asl.Definition) *Program {
	p := &Program{
		start:   def.StartAt,
		comment: def.Comment,
		version: def.Version,
		timeout: time.Duration(def.TimeoutSeconds) * time.Second,
		nodes:   make(map[string]*Node, len(def.States)),
		def:     def,
	}
	for name, st := range def.States {
		node := &Node{Name: name, State: st}
		switch st.Type {
		case asl.StateTypeParallel:
			node.Branches = make([]*Program, len(st.Branches))
			for i := range st.Branches {
				node.Branches[i] = build(&st.Branches[i])
			}
		case asl.StateTypeMap:
			node.Iterator = build(st.Iterator)
		}
		p.nodes[name] = node
	}
	return p
}

// StartAt returns the name of the start state.
func (p *Program) StartAt() string { return p.start }

// Comment returns the definition's comment, if any.
func (p *Program) Comment() string { return p.comment }

// Version returns the definition's version, if any.
func (p *Program) Version() string { return p.version }

// Timeout returns the execution-level timeout, or 0 when none is declared.
func (p *Program) Timeout() time.Duration { return p.timeout }

// Node looks up a compiled state by name.
func (p *Program) Node(name string) (*Node, bool) {
	n, ok := p.nodes[name]
	return n, ok
}

// Len returns the number of states in this program (not counting
// sub-programs).
func (p *Program) Len() int { return len(p.nodes) }

// Definition returns the underlying definition. Callers must treat it as
// read-only; re-serializing it reproduces every recognized field.
func (p *Program) Definition() *asl.Definition { return p.def }
