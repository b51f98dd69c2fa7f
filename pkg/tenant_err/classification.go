// pkg/tenant_err/classification.go
//
// Error classification with distinct exit codes so scripts driving the CLI
// can tell a validation failure from an approval stall from a rollback.

package tenant_err

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies errors for exit-code mapping.
type Category int

const (
	// CategorySystem - OS/filesystem/remote issues (exit 1)
	CategorySystem Category = iota
	// CategoryValidation - config or invariant violations (exit 2)
	CategoryValidation
	// CategoryGraph - cycle / unresolved reference, fatal to the plan (exit 2)
	CategoryGraph
	// CategoryApproval - approval pending or rejected (exit 4)
	CategoryApproval
	// CategoryRolledBack - apply failed and was rolled back (exit 5)
	CategoryRolledBack
	// CategoryRestorePartial - restore could not fully complete (exit 6)
	CategoryRestorePartial
	// CategoryUser - user cancelled/interrupted (exit 130)
	CategoryUser
	// CategoryInternal - bugs in tenantctl itself (exit 3)
	CategoryInternal
)

// ClassifiedError wraps an error with its category and remediation steps.
type ClassifiedError struct {
	Category    Category
	Message     string
	Cause       error
	Remediation []string
}

func (e *ClassifiedError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(fmt.Sprintf("\n\nCause: %v", e.Cause))
	}

	if len(e.Remediation) > 0 {
		sb.WriteString("\n\nHow to fix:")
		for i, step := range e.Remediation {
			sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, step))
		}
	}

	return sb.String()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the exit code for this error category.
func (e *ClassifiedError) ExitCode() int {
	switch e.Category {
	case CategoryValidation, CategoryGraph:
		return 2
	case CategoryInternal:
		return 3
	case CategoryApproval:
		return 4
	case CategoryRolledBack:
		return 5
	case CategoryRestorePartial:
		return 6
	case CategoryUser:
		return 130
	default:
		return 1
	}
}

// GetExitCode extracts the exit code from any error. Returns 0 for nil.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.ExitCode()
	}
	return 1
}

// NewValidationError creates an error for configuration/invariant violations.
func NewValidationError(message string, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Message:     message,
		Remediation: remediation,
	}
}

// NewGraphError wraps a cycle or unresolved-reference failure.
func NewGraphError(cause error) error {
	return &ClassifiedError{
		Category: CategoryGraph,
		Message:  "dependency graph construction failed",
		Cause:    cause,
		Remediation: []string{
			"Inspect the reported cycle or missing reference",
			"Fix the placeholder references in the named configuration items",
		},
	}
}

// NewApprovalError wraps a pending or rejected approval gate outcome.
func NewApprovalError(message string, cause error) error {
	return &ClassifiedError{
		Category: CategoryApproval,
		Message:  message,
		Cause:    cause,
	}
}

// NewRolledBackError reports an apply failure that was rolled back cleanly.
func NewRolledBackError(deploymentID string, cause error) error {
	return &ClassifiedError{
		Category: CategoryRolledBack,
		Message:  fmt.Sprintf("deployment %s failed and was rolled back", deploymentID),
		Cause:    cause,
	}
}

// NewRestorePartialError reports an incomplete restore. This condition is
// always surfaced to the operator, never downgraded.
func NewRestorePartialError(deploymentID string, cause error) error {
	return &ClassifiedError{
		Category: CategoryRestorePartial,
		Message:  fmt.Sprintf("deployment %s failed and restore did not fully complete", deploymentID),
		Cause:    cause,
		Remediation: []string{
			"Review the restore report for per-item failures",
			"Reconcile the listed items in the tenant manually",
			"Re-run `tenantctl rollback` once the conflicts are resolved",
		},
	}
}

// NewUserCancelledError reports operator-initiated cancellation.
func NewUserCancelledError(operation string) error {
	return &ClassifiedError{
		Category: CategoryUser,
		Message:  fmt.Sprintf("operation cancelled: %s", operation),
	}
}

// NewInternalError reports a bug in tenantctl itself.
func NewInternalError(message string, cause error) error {
	return &ClassifiedError{
		Category: CategoryInternal,
		Message:  message,
		Cause:    cause,
	}
}
