// pkg/validate/schema.go
//
// Typed envelopes for each configuration kind. Schema conformance decodes
// the free-form body into the envelope for its kind and runs struct
// validation over it. Unknown extra fields are tolerated; the tenant owns
// the full surface, we check the fields this system controls.

package validate

import (
	"encoding/json"
	"fmt"

	"github.com/fulcrumsec/tenantctl/pkg/config"
	"github.com/go-playground/validator/v10"
)

// PolicyState values mirror the tenant's enforcement states.
const (
	PolicyStateEnabled    = "enabled"
	PolicyStateDisabled   = "disabled"
	PolicyStateReportOnly = "enabledForReportingButNotEnforced"
)

// ControlBlock is the grant control that denies sign-in outright.
const ControlBlock = "block"

type GroupDoc struct {
	DisplayName     string `json:"displayName" validate:"required"`
	Description     string `json:"description"`
	SecurityEnabled *bool  `json:"securityEnabled"`
}

type NamedLocationDoc struct {
	DisplayName string   `json:"displayName" validate:"required"`
	IPRanges    []string `json:"ipRanges" validate:"required,min=1,dive,cidr"`
	IsTrusted   bool     `json:"isTrusted"`
}

type PolicyUsers struct {
	IncludeUsers  []string `json:"includeUsers"`
	ExcludeUsers  []string `json:"excludeUsers"`
	IncludeGroups []string `json:"includeGroups"`
	ExcludeGroups []string `json:"excludeGroups"`
}

type PolicyApplications struct {
	IncludeApplications []string `json:"includeApplications"`
	ExcludeApplications []string `json:"excludeApplications"`
}

type PolicyLocations struct {
	IncludeLocations []string `json:"includeLocations"`
	ExcludeLocations []string `json:"excludeLocations"`
}

type PolicyConditions struct {
	Users        PolicyUsers        `json:"users"`
	Applications PolicyApplications `json:"applications"`
	Locations    PolicyLocations    `json:"locations"`
}

type GrantControls struct {
	Operator        string   `json:"operator" validate:"omitempty,oneof=AND OR"`
	BuiltInControls []string `json:"builtInControls" validate:"dive,oneof=block mfa compliantDevice passwordChange"`
}

type AccessPolicyDoc struct {
	DisplayName   string           `json:"displayName" validate:"required"`
	State         string           `json:"state" validate:"required,oneof=enabled disabled enabledForReportingButNotEnforced"`
	Conditions    PolicyConditions `json:"conditions"`
	GrantControls *GrantControls   `json:"grantControls"`
}

// DeniesSignIn reports whether the policy's effect is capable of denying a
// sign-in: any non-empty grant control set can lock users out, either by
// blocking outright or by demanding a factor an account may not satisfy.
func (d *AccessPolicyDoc) DeniesSignIn() bool {
	return d.GrantControls != nil && len(d.GrantControls.BuiltInControls) > 0
}

type ServicePrincipalDoc struct {
	DisplayName string   `json:"displayName" validate:"required"`
	AppID       string   `json:"appId"`
	Tags        []string `json:"tags"`
}

type SSOAppDoc struct {
	DisplayName  string   `json:"displayName" validate:"required"`
	SignOnMode   string   `json:"signOnMode" validate:"required,oneof=saml oidc password"`
	RedirectURIs []string `json:"redirectUris" validate:"dive,uri"`
}

type AuthMethodPolicyDoc struct {
	DisplayName string   `json:"displayName" validate:"required"`
	Methods     []string `json:"methods" validate:"required,min=1,dive,oneof=fido2 authenticator sms voice email tap"`
	State       string   `json:"state" validate:"required,oneof=enabled disabled"`
}

// decodeBody round-trips the free-form body into a typed envelope.
func decodeBody(body map[string]any, into any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("serializing body: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("body does not match the declared shape: %w", err)
	}
	return nil
}

// checkSchema validates one item's body against the envelope for its kind.
// The decoded envelope is returned whenever decoding succeeded, even if
// struct validation failed, so the other rules can still inspect it.
func checkSchema(v *validator.Validate, item *config.Item) (any, error) {
	var doc any
	switch item.Kind {
	case config.KindGroup:
		doc = &GroupDoc{}
	case config.KindNamedLocation:
		doc = &NamedLocationDoc{}
	case config.KindAccessPolicy:
		doc = &AccessPolicyDoc{}
	case config.KindServicePrincipal:
		doc = &ServicePrincipalDoc{}
	case config.KindSSOApp:
		doc = &SSOAppDoc{}
	case config.KindAuthMethodPolicy:
		doc = &AuthMethodPolicyDoc{}
	default:
		return nil, fmt.Errorf("no schema registered for kind %s", item.Kind)
	}

	if err := decodeBody(item.Body, doc); err != nil {
		return nil, err
	}
	if err := v.Struct(doc); err != nil {
		return doc, err
	}
	return doc, nil
}
