package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/template"
)

// DefaultHistorySize bounds the mutation history of a store.
const DefaultHistorySize = 1000

// Operation names recorded in the mutation history.
const (
	OpSet     = "set"
	OpDelete  = "delete"
	OpMerge   = "merge"
	OpRestore = "restore"
)

// Mutation is one entry of a store's mutation history.
type Mutation struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Path      string    `json:"path"`
	OldValue  any       `json:"old_value,omitempty"`
	NewValue  any       `json:"new_value,omitempty"`
}

// Snapshot is a deep copy of a store's variables.
type Snapshot struct {
	TakenAt time.Time      `json:"taken_at"`
	Data    map[string]any `json:"data"`
}

// Store is a workflow's nested variable tree addressed by dot paths with
// optional bracket indices. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	data        map[string]any
	history     *ring
	checkpoints map[string]*Snapshot
}

// Option configures a Store.
type Option func(*Store)

// WithHistorySize overrides the mutation history capacity.
func WithHistorySize(size int) Option {
	return func(s *Store) {
		s.history = newRing(size)
	}
}

// NewStore creates a store seeded with a deep copy of initial.
func NewStore(initial map[string]any, opts ...Option) *Store {
	s := &Store{
		data:    cloneMap(initial),
		history: newRing(DefaultHistorySize),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get returns a deep copy of the value at path.
func (s *Store) Get(path string) (any, bool) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := walk(s.data, segments)
	if !ok {
		return nil, false
	}

	return models.CloneValue(value), true
}

// Has reports whether path is present.
func (s *Store) Has(path string) bool {
	segments, err := SplitPath(path)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := walk(s.data, segments)

	return ok
}

// Set stores a deep copy of value at path, creating intermediate containers.
func (s *Store) Set(path string, value any) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}

	value = models.CloneValue(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	updated, old := assign(s.data, segments, value)
	s.data = updated.(map[string]any)
	s.record(OpSet, path, old, value)

	return nil
}

// Delete removes the value at path and reports whether it was present.
// A missing path is not an error.
func (s *Store) Delete(path string) (bool, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated, old, removed := remove(s.data, segments)
	s.data = updated.(map[string]any)

	if removed {
		s.record(OpDelete, path, old, nil)
	}

	return removed, nil
}

// Merge shallow-merges partial into the object at path, replacing a
// non-object value there.
func (s *Store) Merge(path string, partial map[string]any) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := walk(s.data, segments)

	merged := make(map[string]any, len(partial))
	if obj, ok := existing.(map[string]any); ok {
		for key, value := range obj {
			merged[key] = value
		}
	}

	for key, value := range partial {
		merged[key] = models.CloneValue(value)
	}

	updated, old := assign(s.data, segments, merged)
	s.data = updated.(map[string]any)
	s.record(OpMerge, path, old, models.CloneValue(merged))

	return nil
}

// All returns a deep copy of every variable.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneMap(s.data)
}

// ResolveTemplate replaces {{path}} placeholders with stored values.
func (s *Store) ResolveTemplate(input string) string {
	return template.Resolve(input, s.Get)
}

// ResolveTemplates resolves placeholders in every string of value and
// returns a new value.
func (s *Store) ResolveTemplates(value any) any {
	return template.ResolveAll(value, s.Get)
}

// MutationHistory returns up to limit of the most recent mutations, oldest
// first. A non-positive limit returns the whole history.
func (s *Store) MutationHistory(limit int) []Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.history.last(limit)
}

// CreateSnapshot captures a deep copy of every variable.
func (s *Store) CreateSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Snapshot{TakenAt: time.Now().UTC(), Data: cloneMap(s.data)}
}

// RestoreSnapshot replaces every variable with a deep copy of the snapshot.
func (s *Store) RestoreSnapshot(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot restore a nil snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = cloneMap(snapshot.Data)
	s.record(OpRestore, "", nil, snapshot.TakenAt)

	return nil
}

// SaveCheckpoint snapshots the store under name, replacing an earlier
// checkpoint of the same name.
func (s *Store) SaveCheckpoint(name string) *Snapshot {
	snapshot := s.CreateSnapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkpoints == nil {
		s.checkpoints = make(map[string]*Snapshot)
	}

	s.checkpoints[name] = snapshot

	return snapshot
}

// Checkpoint returns the snapshot saved under name.
func (s *Store) Checkpoint(name string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.checkpoints[name]

	return snapshot, ok
}

func (s *Store) record(operation, path string, oldValue, newValue any) {
	s.history.push(Mutation{
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Path:      path,
		OldValue:  models.CloneValue(oldValue),
		NewValue:  models.CloneValue(newValue),
	})
}

// ring is a fixed capacity buffer that overwrites its oldest entry.
type ring struct {
	entries []Mutation
	next    int
	full    bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = DefaultHistorySize
	}

	return &ring{entries: make([]Mutation, size)}
}

func (r *ring) push(m Mutation) {
	r.entries[r.next] = m
	r.next = (r.next + 1) % len(r.entries)

	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.entries)
	}

	return r.next
}

func (r *ring) last(limit int) []Mutation {
	size := r.len()
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Mutation, 0, limit)
	start := r.next - limit

	for i := range limit {
		index := (start + i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[index])
	}

	return out
}
