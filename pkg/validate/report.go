// pkg/validate/report.go

package validate

import (
	"fmt"

	"github.com/fulcrumsec/tenantctl/pkg/config"
)

// Severity distinguishes plan-blocking errors from operator-overridable
// warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding.
type Issue struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Item     config.Ref `json:"item"`
	Message  string     `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", i.Severity, i.Rule, i.Item, i.Message)
}

// Report aggregates every finding from one validation run. Rules never
// short-circuit, so a single run surfaces every violation.
type Report struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func (r *Report) add(issue Issue) {
	if issue.Severity == SeverityError {
		r.Errors = append(r.Errors, issue)
	} else {
		r.Warnings = append(r.Warnings, issue)
	}
}

// HasErrors reports whether any hard error blocks the plan.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}
