package compiler

import (
	"fmt"
	"strings"
)

// Severity grades a validation issue
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationIssue is one diagnostic produced during compilation
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	ArrowID  string   `json:"arrow_id,omitempty"`
}

// Issues aggregates compile diagnostics. It is returned as an error when at
// least one issue has error severity.
type Issues []ValidationIssue

// HasErrors reports whether any issue aborts the compile
func (is Issues) HasErrors() bool {
	for _, i := range is {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (is Issues) Error() string {
	var b strings.Builder
	b.WriteString("diagram validation failed:")
	for _, i := range is {
		if i.Severity != SeverityError {
			continue
		}
		b.WriteString("\n  - ")
		b.WriteString(i.Message)
	}
	return b.String()
}

func errorf(format string, args ...interface{}) ValidationIssue {
	return ValidationIssue{Severity: SeverityError, Message: fmt.Sprintf(format, args...)}
}

func warnf(format string, args ...interface{}) ValidationIssue {
	return ValidationIssue{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
}
