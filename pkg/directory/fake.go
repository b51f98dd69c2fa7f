// pkg/directory/fake.go

package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fulcrumsec/tenantctl/pkg/config"
)

// Mutation records one write the fake received, in order.
type Mutation struct {
	Op   string // "upsert" or "delete"
	Kind config.Kind
	Name string
}

// Fake is an in-memory directory tenant used by tests and --dry-run.
// Failures can be scripted per key to exercise rollback paths.
type Fake struct {
	mu        sync.Mutex
	objects   map[config.Ref]Document
	ids       map[config.Ref]string
	seq       int
	mutations []Mutation

	// FailUpsert and FailDelete script per-key failures.
	FailUpsert map[config.Ref]error
	FailDelete map[config.Ref]error
}

// NewFake returns an empty in-memory tenant.
func NewFake() *Fake {
	return &Fake{
		objects:    make(map[config.Ref]Document),
		ids:        make(map[config.Ref]string),
		FailUpsert: make(map[config.Ref]error),
		FailDelete: make(map[config.Ref]error),
	}
}

// Seed installs an object as pre-existing remote state.
func (f *Fake) Seed(kind config.Kind, name string, doc Document) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := config.Ref{Kind: kind, Name: name}
	f.objects[ref] = cloneDoc(doc)
	if _, ok := f.ids[ref]; !ok {
		f.seq++
		f.ids[ref] = fmt.Sprintf("id-%04d", f.seq)
	}
	return f.ids[ref]
}

func (f *Fake) CreateOrUpdate(ctx context.Context, kind config.Kind, name string, body Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := config.Ref{Kind: kind, Name: name}
	f.mutations = append(f.mutations, Mutation{Op: "upsert", Kind: kind, Name: name})
	if err := f.FailUpsert[ref]; err != nil {
		return "", err
	}

	f.objects[ref] = cloneDoc(body)
	if _, ok := f.ids[ref]; !ok {
		f.seq++
		f.ids[ref] = fmt.Sprintf("id-%04d", f.seq)
	}
	return f.ids[ref], nil
}

func (f *Fake) Get(ctx context.Context, kind config.Kind, name string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, ok := f.objects[config.Ref{Kind: kind, Name: name}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (f *Fake) Delete(ctx context.Context, kind config.Kind, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := config.Ref{Kind: kind, Name: name}
	f.mutations = append(f.mutations, Mutation{Op: "delete", Kind: kind, Name: name})
	if err := f.FailDelete[ref]; err != nil {
		return err
	}

	if _, ok := f.objects[ref]; !ok {
		return ErrNotFound
	}
	delete(f.objects, ref)
	return nil
}

// Exists reports whether the fake currently holds the object.
func (f *Fake) Exists(kind config.Kind, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[config.Ref{Kind: kind, Name: name}]
	return ok
}

// Object returns a copy of the stored document, or nil.
func (f *Fake) Object(kind config.Kind, name string) Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.objects[config.Ref{Kind: kind, Name: name}]
	if !ok {
		return nil
	}
	return cloneDoc(doc)
}

// Mutations returns the write log in arrival order.
func (f *Fake) Mutations() []Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Mutation, len(f.mutations))
	copy(out, f.mutations)
	return out
}

func cloneDoc(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}
