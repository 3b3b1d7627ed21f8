package asl

import "encoding/json"

// Definition is the JSON-serializable state-machine document.
// Parsing is lossless for every recognized field so a definition can be
// re-serialized without drift.
type Definition struct {
	Comment        string            `json:"Comment,omitempty"`
	StartAt        string            `json:"StartAt"`
	TimeoutSeconds int               `json:"TimeoutSeconds,omitempty"`
	Version        string            `json:"Version,omitempty"`
	States         map[string]*State `json:"States"`
}

// StateType enumerates the kinds of states in a definition.
type StateType string

const (
	StateTypeTask     StateType = "Task"
	StateTypePass     StateType = "Pass"
	StateTypeWait     StateType = "Wait"
	StateTypeChoice   StateType = "Choice"
	StateTypeSucceed  StateType = "Succeed"
	StateTypeFail     StateType = "Fail"
	StateTypeParallel StateType = "Parallel"
	StateTypeMap      StateType = "Map"
)

// State is one node of a state machine. Fields are a union over all state
// types; which ones are meaningful depends on Type. Optional scalars use
// pointers so absent and zero-valued fields round-trip distinctly.
type State struct {
	Type    StateType `json:"Type"`
	Comment string    `json:"Comment,omitempty"`
	Next    string    `json:"Next,omitempty"`
	End     bool      `json:"End,omitempty"`

	InputPath  *string        `json:"InputPath,omitempty"`
	OutputPath *string        `json:"OutputPath,omitempty"`
	ResultPath *string        `json:"ResultPath,omitempty"`
	Parameters map[string]any `json:"Parameters,omitempty"`
	Retry      []Retrier      `json:"Retry,omitempty"`
	Catch      []Catcher      `json:"Catch,omitempty"`

	// Task
	Resource         string `json:"Resource,omitempty"`
	TimeoutSeconds   int    `json:"TimeoutSeconds,omitempty"`
	HeartbeatSeconds int    `json:"HeartbeatSeconds,omitempty"`

	// Pass
	Result json.RawMessage `json:"Result,omitempty"`

	// Wait (exactly one of the four)
	Seconds       *int   `json:"Seconds,omitempty"`
	SecondsPath   string `json:"SecondsPath,omitempty"`
	Timestamp     string `json:"Timestamp,omitempty"`
	TimestampPath string `json:"TimestampPath,omitempty"`

	// Choice
	Choices []ChoiceRule `json:"Choices,omitempty"`
	Default string       `json:"Default,omitempty"`

	// Parallel
	Branches []Definition `json:"Branches,omitempty"`

	// Map
	Iterator       *Definition `json:"Iterator,omitempty"`
	ItemsPath      string      `json:"ItemsPath,omitempty"`
	MaxConcurrency *int        `json:"MaxConcurrency,omitempty"`

	// Fail
	Error string `json:"Error,omitempty"`
	Cause string `json:"Cause,omitempty"`
}

// Terminal reports whether the state ends its program on success.
func (s *State) Terminal() bool {
	return s.End || s.Type == StateTypeSucceed || s.Type == StateTypeFail
}

// ChoiceRule is one ordered rule of a Choice state: a comparison against a
// path-addressed value, or a boolean combinator over nested rules. Next is
// only set on top-level rules.
type ChoiceRule struct {
	Variable string `json:"Variable,omitempty"`

	StringEquals            *string `json:"StringEquals,omitempty"`
	StringLessThan          *string `json:"StringLessThan,omitempty"`
	StringGreaterThan       *string `json:"StringGreaterThan,omitempty"`
	StringLessThanEquals    *string `json:"StringLessThanEquals,omitempty"`
	StringGreaterThanEquals *string `json:"StringGreaterThanEquals,omitempty"`

	NumericEquals            *float64 `json:"NumericEquals,omitempty"`
	NumericLessThan          *float64 `json:"NumericLessThan,omitempty"`
	NumericGreaterThan       *float64 `json:"NumericGreaterThan,omitempty"`
	NumericLessThanEquals    *float64 `json:"NumericLessThanEquals,omitempty"`
	NumericGreaterThanEquals *float64 `json:"NumericGreaterThanEquals,omitempty"`

	BooleanEquals *bool `json:"BooleanEquals,omitempty"`

	TimestampEquals            *string `json:"TimestampEquals,omitempty"`
	TimestampLessThan          *string `json:"TimestampLessThan,omitempty"`
	TimestampGreaterThan       *string `json:"TimestampGreaterThan,omitempty"`
	TimestampLessThanEquals    *string `json:"TimestampLessThanEquals,omitempty"`
	TimestampGreaterThanEquals *string `json:"TimestampGreaterThanEquals,omitempty"`

	And []ChoiceRule `json:"And,omitempty"`
	Or  []ChoiceRule `json:"Or,omitempty"`
	Not *ChoiceRule  `json:"Not,omitempty"`

	Next string `json:"Next,omitempty"`
}

// Retrier declares automatic retry for a set of error names.
type Retrier struct {
	ErrorEquals     []string `json:"ErrorEquals"`
	IntervalSeconds *int     `json:"IntervalSeconds,omitempty"` // default 1
	MaxAttempts     *int     `json:"MaxAttempts,omitempty"`     // default 3
	BackoffRate     *float64 `json:"BackoffRate,omitempty"`     // default 2.0
}

// Retrier defaults per the reference service.
const (
	DefaultIntervalSeconds = 1
	DefaultMaxAttempts     = 3
	DefaultBackoffRate     = 2.0
)

// Interval returns the effective base interval in seconds.
func (r *Retrier) Interval() int {
	if r.IntervalSeconds == nil {
		return DefaultIntervalSeconds
	}
	return *r.IntervalSeconds
}

// Attempts returns the effective maximum attempt count.
func (r *Retrier) Attempts() int {
	if r.MaxAttempts == nil {
		return DefaultMaxAttempts
	}
	return *r.MaxAttempts
}

// Backoff returns the effective backoff multiplier.
func (r *Retrier) Backoff() float64 {
	if r.BackoffRate == nil {
		return DefaultBackoffRate
	}
	return *r.BackoffRate
}

// Catcher declares fallback routing for a set of error names. The error
// object is written at ResultPath before transitioning to Next.
type Catcher struct {
	ErrorEquals []string `json:"ErrorEquals"`
	ResultPath  *string  `json:"ResultPath,omitempty"`
	Next        string   `json:"Next"`
}

// ParseDefinition decodes a raw definition document.
// Unknown fields are tolerated here; the validation pipeline rejects
// malformed documents with precise locations.
func ParseDefinition(src []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(src, &def); err != nil {
		return nil, NewStatesErrorf(ErrorRuntime, "definition is not valid JSON: %s", err.Error()).WithWrapped(err)
	}
	return &def, nil
}
