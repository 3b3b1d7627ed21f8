package asl

import "fmt"

// Codes attached to definition validation issues.
const (
	CodeSchema     = "SCHEMA_ERROR"
	CodeDefinition = "DEFINITION_ERROR"
)

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single definition problem with location context.
// Path addresses the offending state and field, e.g. "States.Fetch.Next".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates all issues found in a definition.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// DefinitionError is the fatal, compile-time error produced when a definition
// fails validation. No Program is ever built from an invalid definition.
type DefinitionError struct {
	Issues []ValidationIssue
}

func (e *DefinitionError) Error() string {
	if len(e.Issues) == 1 {
		i := e.Issues[0]
		return fmt.Sprintf("invalid definition: %s: %s", i.Path, i.Message)
	}
	return fmt.Sprintf("invalid definition: %d errors (first: %s: %s)",
		len(e.Issues), e.Issues[0].Path, e.Issues[0].Message)
}

// ToError converts the result to a DefinitionError, or nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	return &DefinitionError{Issues: r.Errors}
}
