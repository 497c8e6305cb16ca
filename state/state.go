package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/fepstate/log"
)

// dataFileKey is the identity field every checkpoint must carry: the path
// the record believes it was last saved to or loaded from.
const dataFileKey = "data_file"

// TimestampLayout formats timestamps used in default checkpoint names and
// backup file names, with second resolution.
const TimestampLayout = "20060102_150405"

// Clock supplies the current time. Injectable so default names and tests
// stay deterministic.
type Clock func() time.Time

// Store is a schema-agnostic checkpoint record: a mapping from string keys
// to arbitrary nested values that can be persisted atomically and reloaded
// across process restarts. Only the data_file field has fixed meaning; the
// pipeline layers whatever structure it needs on the rest (ligand records,
// MCS caches, thermograph runs).
type Store struct {
	mu       sync.Mutex
	fields   map[string]any
	registry *Registry
	logger   log.Logger
	clock    Clock
	exit     func(int)
}

// Option configures a Store at construction.
type Option func(*Store)

// WithLogger sets the logger used for load/save diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used to generate default checkpoint names.
func WithClock(clock Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithRegistry sets the type registry used to round-trip opaque values.
func WithRegistry(registry *Registry) Option {
	return func(s *Store) { s.registry = registry }
}

// WithExitFunc overrides the function invoked on an unrecoverable save
// failure. Defaults to os.Exit.
func WithExitFunc(exit func(int)) Option {
	return func(s *Store) { s.exit = exit }
}

// New constructs a Store from path.
//
// With an empty path the store starts empty under a generated default name
// and nothing is touched on disk. With a path to a missing file the store
// starts empty and is immediately persisted there (first-run bootstrap).
// With a path to an existing file the record is deserialized fully; a file
// without a data_file field fails with ErrInvalidCheckpoint, and a recorded
// data_file that differs from path is warned about and overwritten so later
// saves target the location actually used.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		fields:   make(map[string]any),
		registry: DefaultRegistry(),
		logger:   log.GetDefaultLogger(),
		clock:    time.Now,
		exit:     os.Exit,
	}
	for _, opt := range opts {
		opt(s)
	}

	if path == "" {
		s.fields[dataFileKey] = fmt.Sprintf("savedata_%s.json", s.clock().Format(TimestampLayout))
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.fields[dataFileKey] = path
		if err := s.Save(""); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	fields, err := s.registry.decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	s.fields = fields

	recorded, ok := s.fields[dataFileKey].(string)
	if !ok {
		s.logger.Error("progress file %s does not contain data_file data; is it a checkpoint file?", path)
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidCheckpoint)
	}
	if recorded != path {
		s.logger.Warn("progress file %s claims to be generated as file %s", path, recorded)
		s.fields[dataFileKey] = path
	}
	return s, nil
}

// DataFile returns the path the store will save to.
func (s *Store) DataFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, _ := s.fields[dataFileKey].(string)
	return path
}

// SetDataFile retargets future saves to path.
func (s *Store) SetDataFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[dataFileKey] = path
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.fields[key]
	return v, ok
}

// Set stores value under key.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[key] = value
}

// Delete removes key from the record.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fields, key)
}

// Keys returns the record's top-level keys, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup walks a chain of nested map keys and returns the value at the end
// of the chain, if every intermediate level exists and is a map.
func (s *Store) Lookup(keys ...string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current any = s.fields
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// EnsureMap walks a chain of nested map keys, creating empty maps along the
// way, and returns the map at the end of the chain. An existing non-map
// value at any level is replaced.
func (s *Store) EnsureMap(keys ...string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.fields
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	return current
}

// Save persists the full record to data_file, retargeted to outputPath first
// when one is given. The snapshot is written to a temporary file next to the
// target, forced to durable storage and atomically renamed into place, so
// readers observe either the previous complete checkpoint or the new one.
//
// A failure to write the temporary file terminates the process: a checkpoint
// known to be unwritable must not silently keep accumulating state the user
// believes is being saved. A failed rename is surfaced as a *SaveError and
// left to the caller.
func (s *Store) Save(outputPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outputPath != "" {
		s.fields[dataFileKey] = outputPath
	}
	target, _ := s.fields[dataFileKey].(string)
	if target == "" {
		return fmt.Errorf("checkpoint has no data_file to save to")
	}

	data, err := s.registry.encodeRecord(s.fields)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(target), fmt.Sprintf(".checkpoint-%s.tmp", uuid.New().String()))
	if err := writeAndSync(tmp, data); err != nil {
		s.logger.Error("could not save checkpoint data to %s: %v", target, err)
		s.exit(1)
		return err
	}

	if err := os.Rename(tmp, target); err != nil {
		return &SaveError{Path: target, Err: err}
	}

	s.logger.Debug("saved checkpoint data to %s", target)
	return nil
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
