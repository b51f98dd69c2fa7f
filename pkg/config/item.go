// pkg/config/item.go

package config

import "fmt"

// State tracks an item's progress through a deployment attempt.
type State int

const (
	StatePending State = iota
	StateResolved
	StateApplied
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateResolved:
		return "Resolved"
	case StateApplied:
		return "Applied"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Ref identifies a configuration item by kind and name. It doubles as the
// target of a placeholder reference; items of different kinds may share a
// name, so identity is always the pair.
type Ref struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.Name)
}

// Item is one declarative configuration document destined for the tenant.
type Item struct {
	Kind          Kind
	Name          string
	Body          map[string]any
	RawReferences []Ref
	RemoteID      string
	State         State
	SourceFile    string
}

// Key returns the item's (kind, name) identity.
func (it *Item) Key() Ref {
	return Ref{Kind: it.Kind, Name: it.Name}
}
