// pkg/config/store.go

package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"gopkg.in/yaml.v3"
)

// MalformedConfigError reports an unparseable or structurally invalid
// configuration file. It is fatal to that item only; loading continues so a
// single run surfaces every bad file.
type MalformedConfigError struct {
	File   string
	Reason error
}

func (e *MalformedConfigError) Error() string {
	return fmt.Sprintf("malformed configuration file %s: %v", e.File, e.Reason)
}

func (e *MalformedConfigError) Unwrap() error {
	return e.Reason
}

// fileDoc is the on-disk envelope for one configuration item.
type fileDoc struct {
	Kind string         `json:"kind" yaml:"kind"`
	Name string         `json:"name" yaml:"name"`
	Body map[string]any `json:"body" yaml:"body"`
}

// Store loads configuration items from a source directory.
type Store struct{}

// NewStore returns a Store.
func NewStore() *Store {
	return &Store{}
}

// LoadAll walks path for .json/.yaml/.yml documents and returns typed items
// ordered by (kind precedence, name). Every malformed file is reported; the
// returned error aggregates all of them. Per-kind name uniqueness is
// enforced here.
func (s *Store) LoadAll(ctx context.Context, path string) ([]*Item, error) {
	logger := otelzap.Ctx(ctx)
	logger.Info("Loading configuration items", zap.String("path", path))

	var loadErrs *multierror.Error
	byKey := make(map[Ref]*Item)

	walkErr := filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(file))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}

		item, err := s.loadFile(file, ext)
		if err != nil {
			logger.Warn("Skipping malformed configuration file",
				zap.String("file", file),
				zap.Error(err))
			loadErrs = multierror.Append(loadErrs, err)
			return nil
		}

		key := item.Key()
		if prior, dup := byKey[key]; dup {
			loadErrs = multierror.Append(loadErrs, &MalformedConfigError{
				File:   file,
				Reason: fmt.Errorf("duplicate item %s (already declared in %s)", key, prior.SourceFile),
			})
			return nil
		}
		byKey[key] = item
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking configuration path %s: %w", path, walkErr)
	}

	items := make([]*Item, 0, len(byKey))
	for _, item := range byKey {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		ri, rj := items[i].Kind.PrecedenceRank(), items[j].Kind.PrecedenceRank()
		if ri != rj {
			return ri < rj
		}
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].Kind < items[j].Kind
	})

	// loadErrs stays nil on a clean load; Len has a value receiver and
	// would dereference it.
	malformed := 0
	if loadErrs != nil {
		malformed = len(loadErrs.Errors)
	}
	logger.Info("Configuration load complete",
		zap.Int("items", len(items)),
		zap.Int("malformed", malformed))

	return items, loadErrs.ErrorOrNil()
}

func (s *Store) loadFile(file, ext string) (*Item, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, &MalformedConfigError{File: file, Reason: err}
	}

	raw, err = normalizeBOM(raw)
	if err != nil {
		return nil, &MalformedConfigError{File: file, Reason: err}
	}

	var doc fileDoc
	switch ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, &MalformedConfigError{File: file, Reason: err}
		}
	default:
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, &MalformedConfigError{File: file, Reason: err}
		}
	}

	kind, err := ParseKind(doc.Kind)
	if err != nil {
		return nil, &MalformedConfigError{File: file, Reason: err}
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, &MalformedConfigError{File: file, Reason: fmt.Errorf("missing item name")}
	}
	if doc.Body == nil {
		return nil, &MalformedConfigError{File: file, Reason: fmt.Errorf("missing item body")}
	}

	refs, err := ExtractReferences(doc.Body)
	if err != nil {
		return nil, &MalformedConfigError{File: file, Reason: err}
	}

	return &Item{
		Kind:          kind,
		Name:          doc.Name,
		Body:          doc.Body,
		RawReferences: refs,
		State:         StatePending,
		SourceFile:    file,
	}, nil
}

// normalizeBOM strips a UTF-8 BOM and transcodes UTF-16 variants to UTF-8.
// Exported identity documents frequently arrive with one of these prefixes.
func normalizeBOM(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return raw[3:], nil
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}), bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		out, err := dec.Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding UTF-16 content: %w", err)
		}
		return out, nil
	default:
		return raw, nil
	}
}
