// pkg/config/placeholder.go
//
// Placeholder tokens look like {{Kind:Name}} and reference another item's
// remote identifier, known only after that item has been created.

package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// PlaceholderPattern matches {{Kind:Name}} tokens anywhere in a document.
var PlaceholderPattern = regexp.MustCompile(`\{\{([A-Za-z]+):([^{}:]+)\}\}`)

// PlaceholderFor renders the placeholder token for a reference.
func PlaceholderFor(ref Ref) string {
	return fmt.Sprintf("{{%s:%s}}", ref.Kind, ref.Name)
}

// ExtractReferences scans a document body for placeholder tokens and returns
// the deduplicated, sorted set of references. A token naming an unknown kind
// is a malformed-config failure, not a silent pass-through.
func ExtractReferences(body map[string]any) ([]Ref, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("serializing body for reference scan: %w", err)
	}

	seen := make(map[Ref]struct{})
	for _, m := range PlaceholderPattern.FindAllStringSubmatch(string(raw), -1) {
		kind, err := ParseKind(m[1])
		if err != nil {
			return nil, fmt.Errorf("placeholder %q: %w", m[0], err)
		}
		seen[Ref{Kind: kind, Name: m[2]}] = struct{}{}
	}

	refs := make([]Ref, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].Name < refs[j].Name
	})
	return refs, nil
}
