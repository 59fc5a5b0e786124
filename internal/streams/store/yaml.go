// Package store persists the stream catalogue as a single YAML
// document. Writes are atomic and durable: the document is written to
// a temp file in the same directory, fsynced, then renamed over the
// old file, so a crash mid-write leaves either the old or the new
// catalogue on disk, never a torn one.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/lanview/camnode/internal/logging"
	"github.com/lanview/camnode/internal/streams"
)

// DefaultPath is where the catalogue lives unless overridden.
const DefaultPath = "/app/config/config.yml"

// IOError wraps a filesystem failure while reading or writing the
// catalogue. Callers match it with errors.As.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("catalogue %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// SchemaError wraps a parse failure or an invariant violation in the
// catalogue document. Callers match it with errors.As.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("catalogue schema: %v", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// document is the on-disk shape of the catalogue. Top-level keys the
// current version does not know about are preserved in Extra so a
// newer writer's fields survive a round-trip through this one.
type document struct {
	Streams []streams.Stream `yaml:"streams"`
	Extra   map[string]any   `yaml:",inline"`
}

// Store reads and writes the YAML catalogue at a fixed path. Save
// calls are serialized; readers never touch the file directly and go
// through the registry's in-memory copy instead.
type Store struct {
	path string

	mu    sync.Mutex
	extra map[string]any
}

// New creates a store for the catalogue at path. The file does not
// need to exist yet.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path returns the catalogue location, for logging and the config
// watcher.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the catalogue. A missing file is not an
// error: it yields an empty catalogue, which the first Save creates.
func (s *Store) Load() ([]streams.Stream, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.GetLogger("store").Info("catalogue not found, starting empty", "path", s.path)
		return []streams.Stream{}, nil
	}
	if err != nil {
		return nil, &IOError{Op: "read", Path: s.path, Err: err}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &SchemaError{Err: err}
	}
	if err := streams.ValidateCatalogue(doc.Streams); err != nil {
		return nil, &SchemaError{Err: err}
	}

	s.mu.Lock()
	s.extra = doc.Extra
	s.mu.Unlock()

	if doc.Streams == nil {
		doc.Streams = []streams.Stream{}
	}
	return doc.Streams, nil
}

// Save validates and atomically replaces the catalogue. The previous
// document's unknown top-level keys are carried over.
func (s *Store) Save(list []streams.Stream) error {
	if err := streams.ValidateCatalogue(list); err != nil {
		return &SchemaError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := document{Streams: list, Extra: s.extra}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return &SchemaError{Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o644))
	if err != nil {
		return &IOError{Op: "create", Path: s.path, Err: err}
	}
	defer pending.Cleanup() //nolint:errcheck // no-op after a successful replace

	if _, err := pending.Write(data); err != nil {
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return &IOError{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}
