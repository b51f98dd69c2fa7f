// pkg/config/kind.go

package config

import (
	"fmt"
)

// Kind identifies the category of a configuration item in the tenant.
type Kind string

const (
	KindGroup            Kind = "Group"
	KindNamedLocation    Kind = "NamedLocation"
	KindAccessPolicy     Kind = "AccessPolicy"
	KindServicePrincipal Kind = "ServicePrincipal"
	KindSSOApp           Kind = "SSOApp"
	KindAuthMethodPolicy Kind = "AuthMethodPolicy"
)

// kindRanks fixes deployment precedence: groups and locations before
// policies, policies before principals and SSO apps, auth methods last.
var kindRanks = map[Kind]int{
	KindGroup:            0,
	KindNamedLocation:    1,
	KindAccessPolicy:     2,
	KindServicePrincipal: 3,
	KindSSOApp:           3,
	KindAuthMethodPolicy: 4,
}

// ParseKind converts a raw string into a Kind.
func ParseKind(raw string) (Kind, error) {
	k := Kind(raw)
	if !k.Valid() {
		return "", fmt.Errorf("unknown configuration kind %q", raw)
	}
	return k, nil
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindRanks[k]
	return ok
}

// PrecedenceRank returns the fixed deployment-wave rank for k.
func (k Kind) PrecedenceRank() int {
	return kindRanks[k]
}

// Kinds returns all declared kinds in precedence order.
func Kinds() []Kind {
	return []Kind{
		KindGroup,
		KindNamedLocation,
		KindAccessPolicy,
		KindServicePrincipal,
		KindSSOApp,
		KindAuthMethodPolicy,
	}
}
