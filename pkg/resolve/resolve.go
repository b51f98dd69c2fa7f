// pkg/resolve/resolve.go
//
// Placeholder resolution: substitute {{Kind:Name}} tokens with the remote
// identifiers of already-applied items. Resolution never mutates the
// declared body, so resolving again after a partial failure is safe.

package resolve

import (
	"fmt"
	"sync"

	"github.com/fulcrumsec/tenantctl/pkg/config"
)

// NotAppliedError reports a placeholder whose referent has not reached the
// Applied state. Deployment order is a hard precondition, and this is the
// enforcement point.
type NotAppliedError struct {
	Item     config.Ref
	Referent config.Ref
}

func (e *NotAppliedError) Error() string {
	return fmt.Sprintf("%s references %s, which has not reached the Applied state", e.Item, e.Referent)
}

// Context holds the remote identifiers materialized so far in one deployment
// attempt. It is passed explicitly through the pipeline rather than shared
// globally, and is safe for use from concurrent wave members.
type Context struct {
	mu  sync.RWMutex
	ids map[config.Ref]string
}

// NewContext returns an empty resolution context.
func NewContext() *Context {
	return &Context{ids: make(map[config.Ref]string)}
}

// MarkApplied records the remote identifier of a successfully applied item.
func (c *Context) MarkApplied(ref config.Ref, remoteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[ref] = remoteID
}

// Lookup returns the remote identifier for ref, if applied.
func (c *Context) Lookup(ref config.Ref) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[ref]
	return id, ok
}

// Resolve returns a copy of the item's body with every placeholder replaced
// by its referent's remote identifier, and marks the item Resolved. A body
// without placeholders passes through untouched, so the operation is
// idempotent. A referent that is not yet Applied fails with NotAppliedError.
func Resolve(item *config.Item, rctx *Context) (map[string]any, error) {
	if len(item.RawReferences) == 0 {
		if item.State == config.StatePending {
			item.State = config.StateResolved
		}
		return deepCopy(item.Body), nil
	}

	replacements := make(map[string]string, len(item.RawReferences))
	for _, ref := range item.RawReferences {
		id, ok := rctx.Lookup(ref)
		if !ok {
			return nil, &NotAppliedError{Item: item.Key(), Referent: ref}
		}
		replacements[config.PlaceholderFor(ref)] = id
	}

	body := substitute(deepCopy(item.Body), replacements).(map[string]any)
	if item.State == config.StatePending {
		item.State = config.StateResolved
	}
	return body, nil
}

// substitute walks the document and applies token replacements to every
// string value. A string that is exactly one token becomes the bare id; a
// string with embedded tokens keeps its surrounding text.
func substitute(v any, replacements map[string]string) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = substitute(child, replacements)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = substitute(child, replacements)
		}
		return t
	case string:
		return config.PlaceholderPattern.ReplaceAllStringFunc(t, func(tok string) string {
			if id, ok := replacements[tok]; ok {
				return id
			}
			return tok
		})
	default:
		return v
	}
}

func deepCopy(body map[string]any) map[string]any {
	return copyValue(body).(map[string]any)
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = copyValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = copyValue(child)
		}
		return out
	default:
		return v
	}
}
