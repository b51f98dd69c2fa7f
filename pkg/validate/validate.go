// pkg/validate/validate.go

package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulcrumsec/tenantctl/pkg/config"
	"github.com/go-playground/validator/v10"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Rule names, as they appear in reports.
const (
	RuleSchema         = "schema-conformance"
	RuleBreakGlass     = "break-glass-exclusion"
	RuleConflict       = "conflicting-policies"
	RuleProdReportOnly = "prod-report-only"
)

// Options tune a validation run.
type Options struct {
	Environment config.Environment
	// BreakGlassGroup is the designated emergency-access group name. Every
	// sign-in-denying access policy must exclude it.
	BreakGlassGroup string
}

// DefaultBreakGlassGroup is used when no group is configured.
const DefaultBreakGlassGroup = "break-glass-access"

// Engine runs the pre-deployment invariant checks.
type Engine struct {
	validate *validator.Validate
}

// NewEngine returns a validation engine.
func NewEngine() *Engine {
	return &Engine{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate evaluates every rule over every item. Rules are independent: no
// short-circuiting, so one run reports every violation at once. Any hard
// error in the report blocks the approval gate.
func (e *Engine) Validate(ctx context.Context, items []*config.Item, opts Options) *Report {
	logger := otelzap.Ctx(ctx)
	if opts.BreakGlassGroup == "" {
		opts.BreakGlassGroup = DefaultBreakGlassGroup
	}

	report := &Report{}
	policies := make(map[config.Ref]*AccessPolicyDoc)

	for _, item := range items {
		doc, err := checkSchema(e.validate, item)
		if err != nil {
			report.add(Issue{
				Rule:     RuleSchema,
				Severity: SeverityError,
				Item:     item.Key(),
				Message:  err.Error(),
			})
		}
		// The remaining rules run over whatever decoded, independently of
		// schema findings.
		if policy, ok := doc.(*AccessPolicyDoc); ok && policy != nil {
			policies[item.Key()] = policy
			e.checkBreakGlass(report, item.Key(), policy, opts)
			e.checkProdReportOnly(report, item.Key(), policy, opts)
		}
	}

	e.checkConflicts(report, items, policies)

	logger.Info("Validation complete",
		zap.String("environment", string(opts.Environment)),
		zap.Int("errors", len(report.Errors)),
		zap.Int("warnings", len(report.Warnings)))

	return report
}

// checkBreakGlass enforces the lockout safety invariant: a policy capable of
// denying sign-in must exclude the designated break-glass group. Hard error
// in every environment, no override.
func (e *Engine) checkBreakGlass(report *Report, key config.Ref, policy *AccessPolicyDoc, opts Options) {
	if !policy.DeniesSignIn() {
		return
	}

	want := config.PlaceholderFor(config.Ref{Kind: config.KindGroup, Name: opts.BreakGlassGroup})
	for _, excluded := range policy.Conditions.Users.ExcludeGroups {
		if excluded == want || excluded == opts.BreakGlassGroup {
			return
		}
	}

	report.add(Issue{
		Rule:     RuleBreakGlass,
		Severity: SeverityError,
		Item:     key,
		Message: fmt.Sprintf("policy can deny sign-in but does not exclude the break-glass group %q; add %s to conditions.users.excludeGroups",
			opts.BreakGlassGroup, want),
	})
}

// checkProdReportOnly enforces the production first-deployment rule: in prod
// every access policy must start in report-only mode.
func (e *Engine) checkProdReportOnly(report *Report, key config.Ref, policy *AccessPolicyDoc, opts Options) {
	if opts.Environment != config.EnvProd {
		return
	}
	if policy.State == PolicyStateEnabled {
		report.add(Issue{
			Rule:     RuleProdReportOnly,
			Severity: SeverityError,
			Item:     key,
			Message: fmt.Sprintf("access policies deployed to prod must declare state %q; %q is not allowed at first deployment",
				PolicyStateReportOnly, PolicyStateEnabled),
		})
	}
}

// checkConflicts warns when two policies target overlapping subjects with
// contradictory effects (one blocks, the other grants). A warning, not an
// error: operators may stage an intentional override.
func (e *Engine) checkConflicts(report *Report, items []*config.Item, policies map[config.Ref]*AccessPolicyDoc) {
	keys := make([]config.Ref, 0, len(policies))
	for _, item := range items {
		if _, ok := policies[item.Key()]; ok {
			keys = append(keys, item.Key())
		}
	}

	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			a, b := policies[keys[i]], policies[keys[j]]
			if !targetsOverlap(a, b) {
				continue
			}
			if blocks(a) != blocks(b) {
				report.add(Issue{
					Rule:     RuleConflict,
					Severity: SeverityWarning,
					Item:     keys[i],
					Message: fmt.Sprintf("targets overlap with %s but effects contradict (%s blocks, the other grants)",
						keys[j], blockingName(a, b, keys[i], keys[j])),
				})
			}
		}
	}
}

func blocks(p *AccessPolicyDoc) bool {
	if p.GrantControls == nil {
		return false
	}
	for _, c := range p.GrantControls.BuiltInControls {
		if c == ControlBlock {
			return true
		}
	}
	return false
}

func blockingName(a, b *AccessPolicyDoc, ka, kb config.Ref) string {
	if blocks(a) {
		return ka.String()
	}
	return kb.String()
}

// targetsOverlap reports whether two policies include at least one common
// user, group or application target.
func targetsOverlap(a, b *AccessPolicyDoc) bool {
	return intersects(a.Conditions.Users.IncludeUsers, b.Conditions.Users.IncludeUsers) ||
		intersects(a.Conditions.Users.IncludeGroups, b.Conditions.Users.IncludeGroups) ||
		intersects(a.Conditions.Applications.IncludeApplications, b.Conditions.Applications.IncludeApplications)
}

func intersects(xs, ys []string) bool {
	if len(xs) == 0 || len(ys) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		set[strings.TrimSpace(x)] = struct{}{}
	}
	for _, y := range ys {
		if _, ok := set[strings.TrimSpace(y)]; ok {
			return true
		}
	}
	return false
}
