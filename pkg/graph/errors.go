// pkg/graph/errors.go

package graph

import (
	"fmt"
	"strings"

	"github.com/fulcrumsec/tenantctl/pkg/config"
)

// CycleError reports a reference cycle. The Path holds every item in the
// cycle, in traversal order, closed back to the first element.
type CycleError struct {
	Path []config.Ref
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path)+1)
	for _, ref := range e.Path {
		parts = append(parts, ref.String())
	}
	if len(e.Path) > 0 {
		parts = append(parts, e.Path[0].String())
	}
	return fmt.Sprintf("reference cycle detected: %s", strings.Join(parts, " -> "))
}

// UnresolvedReferenceError reports a placeholder naming an item that does not
// exist in the loaded configuration.
type UnresolvedReferenceError struct {
	From    config.Ref
	Missing config.Ref
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s references %s, which is not declared in the configuration", e.From, e.Missing)
}
