// pkg/state/store.go
//
// Durable state for deployment attempts: one JSON document per record plus
// an append-only JSONL log readable by external audit tooling. The store is
// deliberately schema-agnostic; record types belong to their owning
// packages.

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cerr "github.com/cockroachdb/errors"
)

// Categories used by the engine.
const (
	CategoryDeployments   = "deployments"
	CategoryRestorePoints = "restorepoints"
	CategoryApprovals     = "approvals"
)

// ErrLocked reports that another operation holds the deployment lock.
var ErrLocked = cerr.New("deployment record is locked by another operation")

// Store persists engine state under a root directory.
type Store struct {
	root string
}

// NewStore creates the layout under root if needed.
func NewStore(root string) (*Store, error) {
	for _, category := range []string{CategoryDeployments, CategoryRestorePoints, CategoryApprovals} {
		if err := os.MkdirAll(filepath.Join(root, category), 0o700); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// SaveJSON writes one record document. Writes go through a temp file and
// rename so a crash never leaves a half-written record.
func (s *Store) SaveJSON(category, id string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", category, id, err)
	}
	path := s.docPath(category, id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing %s/%s: %w", category, id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing %s/%s: %w", category, id, err)
	}
	return nil
}

// LoadJSON reads one record document into v.
func (s *Store) LoadJSON(category, id string, v any) error {
	raw, err := os.ReadFile(s.docPath(category, id))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", category, id, err)
	}
	return nil
}

// Exists reports whether a record document is present.
func (s *Store) Exists(category, id string) bool {
	_, err := os.Stat(s.docPath(category, id))
	return err == nil
}

// Delete removes one record document.
func (s *Store) Delete(category, id string) error {
	err := os.Remove(s.docPath(category, id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns the record ids in a category, sorted. Deployment ids are
// timestamp-prefixed, so sorted order is chronological.
func (s *Store) List(category string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, category))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Append adds one entry to the named append-only JSONL log.
func (s *Store) Append(logName string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.root, logName+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log %s: %w", logName, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("appending to log %s: %w", logName, err)
	}
	return nil
}

// ReadLog returns every entry of the named log as raw JSON lines.
func (s *Store) ReadLog(logName string) ([]json.RawMessage, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, logName+".log"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		out = append(out, json.RawMessage(line))
	}
	return out, nil
}

// AcquireLock takes the exclusive logical lock for a deployment id, so
// backup/restore never run concurrently with apply for the same deployment.
// The returned release func removes the lock.
func (s *Store) AcquireLock(id string) (func(), error) {
	path := filepath.Join(s.root, CategoryDeployments, id+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquiring deployment lock: %w", err)
	}
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}

func (s *Store) docPath(category, id string) string {
	return filepath.Join(s.root, category, id+".json")
}
