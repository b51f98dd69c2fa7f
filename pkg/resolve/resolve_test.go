// pkg/resolve/resolve_test.go

package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumsec/tenantctl/pkg/config"
)

func TestResolveSubstitutesPlaceholders(t *testing.T) {
	t.Parallel()

	item := &config.Item{
		Kind: config.KindAccessPolicy,
		Name: "require-mfa",
		Body: map[string]any{
			"displayName": "Require MFA",
			"conditions": map[string]any{
				"users": map[string]any{
					"includeGroups": []any{"{{Group:admins}}"},
					"excludeGroups": []any{"{{Group:break-glass-access}}"},
				},
				"locations": map[string]any{
					"includeLocations": []any{"{{NamedLocation:hq}}"},
				},
			},
			"note": "applies to {{Group:admins}} only",
		},
		RawReferences: []config.Ref{
			{Kind: config.KindGroup, Name: "admins"},
			{Kind: config.KindGroup, Name: "break-glass-access"},
			{Kind: config.KindNamedLocation, Name: "hq"},
		},
		State: config.StatePending,
	}

	rctx := NewContext()
	rctx.MarkApplied(config.Ref{Kind: config.KindGroup, Name: "admins"}, "id-admins")
	rctx.MarkApplied(config.Ref{Kind: config.KindGroup, Name: "break-glass-access"}, "id-bg")
	rctx.MarkApplied(config.Ref{Kind: config.KindNamedLocation, Name: "hq"}, "id-hq")

	body, err := Resolve(item, rctx)
	require.NoError(t, err)

	users := body["conditions"].(map[string]any)["users"].(map[string]any)
	assert.Equal(t, []any{"id-admins"}, users["includeGroups"])
	assert.Equal(t, []any{"id-bg"}, users["excludeGroups"])
	locations := body["conditions"].(map[string]any)["locations"].(map[string]any)
	assert.Equal(t, []any{"id-hq"}, locations["includeLocations"])

	// Embedded tokens keep their surrounding text.
	assert.Equal(t, "applies to id-admins only", body["note"])

	assert.Equal(t, config.StateResolved, item.State)
}

func TestResolveDoesNotMutateDeclaredBody(t *testing.T) {
	t.Parallel()

	item := &config.Item{
		Kind: config.KindSSOApp,
		Name: "wiki",
		Body: map[string]any{
			"ownerGroup": "{{Group:admins}}",
		},
		RawReferences: []config.Ref{{Kind: config.KindGroup, Name: "admins"}},
		State:         config.StatePending,
	}

	rctx := NewContext()
	rctx.MarkApplied(config.Ref{Kind: config.KindGroup, Name: "admins"}, "id-admins")

	first, err := Resolve(item, rctx)
	require.NoError(t, err)
	assert.Equal(t, "id-admins", first["ownerGroup"])

	// The declared body still carries the token, so resolving again after a
	// retry produces the same result.
	assert.Equal(t, "{{Group:admins}}", item.Body["ownerGroup"])

	second, err := Resolve(item, rctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveFailsWhenReferentNotApplied(t *testing.T) {
	t.Parallel()

	item := &config.Item{
		Kind:          config.KindAccessPolicy,
		Name:          "p",
		Body:          map[string]any{"group": "{{Group:admins}}"},
		RawReferences: []config.Ref{{Kind: config.KindGroup, Name: "admins"}},
		State:         config.StatePending,
	}

	_, err := Resolve(item, NewContext())
	var nae *NotAppliedError
	require.ErrorAs(t, err, &nae)
	assert.Equal(t, config.Ref{Kind: config.KindAccessPolicy, Name: "p"}, nae.Item)
	assert.Equal(t, config.Ref{Kind: config.KindGroup, Name: "admins"}, nae.Referent)
	assert.Equal(t, config.StatePending, item.State)
}

func TestResolveWithoutPlaceholders(t *testing.T) {
	t.Parallel()

	item := &config.Item{
		Kind:  config.KindGroup,
		Name:  "admins",
		Body:  map[string]any{"displayName": "Admins"},
		State: config.StatePending,
	}

	body, err := Resolve(item, NewContext())
	require.NoError(t, err)
	assert.Equal(t, item.Body, body)
	assert.Equal(t, config.StateResolved, item.State)

	// The returned body is a copy, not an alias.
	body["displayName"] = "mutated"
	assert.Equal(t, "Admins", item.Body["displayName"])
}
