// pkg/config/store_test.go

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAllJSONAndYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeFile(t, dir, "admins.json", `{
		"kind": "Group",
		"name": "admins",
		"body": {"displayName": "Admins", "securityEnabled": true}
	}`)
	writeFile(t, dir, "hq.yaml", `
kind: NamedLocation
name: hq
body:
  displayName: Headquarters
  ipRanges: ["203.0.113.0/24"]
  isTrusted: true
`)
	writeFile(t, dir, "require-mfa.json", `{
		"kind": "AccessPolicy",
		"name": "require-mfa",
		"body": {
			"displayName": "Require MFA",
			"state": "enabledForReportingButNotEnforced",
			"conditions": {"users": {"includeGroups": ["{{Group:admins}}"]}},
			"grantControls": {"operator": "OR", "builtInControls": ["mfa"]}
		}
	}`)

	items, err := NewStore().LoadAll(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, items, 3)

	// Ordered by kind precedence, then name.
	assert.Equal(t, KindGroup, items[0].Kind)
	assert.Equal(t, KindNamedLocation, items[1].Kind)
	assert.Equal(t, KindAccessPolicy, items[2].Kind)

	assert.Equal(t, []Ref{{Kind: KindGroup, Name: "admins"}}, items[2].RawReferences)
	assert.Equal(t, StatePending, items[2].State)
}

func TestLoadAllEmptyDirectory(t *testing.T) {
	t.Parallel()

	items, err := NewStore().LoadAll(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLoadAllNormalizesBOM(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	doc := `{"kind": "Group", "name": "ops", "body": {"displayName": "Ops"}}`

	// UTF-8 BOM, the common export artifact.
	utf8Content := append([]byte{0xEF, 0xBB, 0xBF}, []byte(doc)...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ops.json"), utf8Content, 0o600))

	// UTF-16 LE with BOM, as emitted by some directory export tooling.
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	utf16Content, err := enc.Bytes([]byte(`{"kind": "Group", "name": "sre", "body": {"displayName": "SRE"}}`))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sre.json"), utf16Content, 0o600))

	items, err := NewStore().LoadAll(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ops", items[0].Name)
	assert.Equal(t, "sre", items[1].Name)
}

func TestLoadAllSurfacesEveryMalformedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeFile(t, dir, "good.json", `{"kind": "Group", "name": "good", "body": {"displayName": "Good"}}`)
	writeFile(t, dir, "broken.json", `{"kind": "Group", "name": `)
	writeFile(t, dir, "unknown-kind.json", `{"kind": "Widget", "name": "w", "body": {}}`)
	writeFile(t, dir, "no-body.yaml", "kind: Group\nname: empty\n")

	items, err := NewStore().LoadAll(context.Background(), dir)
	require.Error(t, err)
	// Every malformed file is reported in one pass.
	assert.Contains(t, err.Error(), "broken.json")
	assert.Contains(t, err.Error(), "unknown-kind.json")
	assert.Contains(t, err.Error(), "no-body.yaml")
	// The good item still loads.
	require.Len(t, items, 1)
	assert.Equal(t, "good", items[0].Name)
}

func TestLoadAllRejectsDuplicates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeFile(t, dir, "a.json", `{"kind": "Group", "name": "dup", "body": {"displayName": "A"}}`)
	writeFile(t, dir, "b.json", `{"kind": "Group", "name": "dup", "body": {"displayName": "B"}}`)
	// Same name under a different kind is legal; identity is (kind, name).
	writeFile(t, dir, "c.json", `{"kind": "ServicePrincipal", "name": "dup", "body": {"displayName": "C"}}`)

	_, err := NewStore().LoadAll(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate item Group:dup")
	assert.NotContains(t, err.Error(), "ServicePrincipal:dup")
}

func TestExtractReferences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    map[string]any
		want    []Ref
		wantErr bool
	}{
		{
			name: "no placeholders",
			body: map[string]any{"displayName": "plain"},
			want: []Ref{},
		},
		{
			name: "nested and deduplicated",
			body: map[string]any{
				"conditions": map[string]any{
					"users": map[string]any{
						"includeGroups": []any{"{{Group:admins}}", "{{Group:admins}}"},
						"excludeGroups": []any{"{{Group:break-glass-access}}"},
					},
					"locations": map[string]any{
						"includeLocations": []any{"{{NamedLocation:hq}}"},
					},
				},
			},
			want: []Ref{
				{Kind: KindGroup, Name: "admins"},
				{Kind: KindGroup, Name: "break-glass-access"},
				{Kind: KindNamedLocation, Name: "hq"},
			},
		},
		{
			name:    "unknown kind is malformed",
			body:    map[string]any{"ref": "{{Gadget:thing}}"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractReferences(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestKindPrecedence(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, KindGroup.PrecedenceRank())
	assert.Equal(t, 1, KindNamedLocation.PrecedenceRank())
	assert.Equal(t, 2, KindAccessPolicy.PrecedenceRank())
	assert.Equal(t, 3, KindServicePrincipal.PrecedenceRank())
	assert.Equal(t, 3, KindSSOApp.PrecedenceRank())
	assert.Equal(t, 4, KindAuthMethodPolicy.PrecedenceRank())

	_, err := ParseKind("Widget")
	require.Error(t, err)
}
