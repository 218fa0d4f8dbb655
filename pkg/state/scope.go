package state

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/template"
)

// Scope is the variable view of one execution path: its own context stack
// layered over the workflow store. Forked scopes write to a private layer so
// sibling branches and iterations never observe each other's writes.
type Scope struct {
	store  *Store
	locals *Store
	stack  *ContextStack
	parent *Scope

	mu      sync.Mutex
	journal []write
	masked  []string
}

// write is one mutation made in a forked scope, replayed by Commit.
type write struct {
	op      string
	path    string
	value   any
	partial map[string]any
}

// NewScope creates a root scope writing straight to store.
func NewScope(store *Store) *Scope {
	if store == nil {
		store = NewStore(nil)
	}

	return &Scope{store: store, stack: NewContextStack()}
}

// Store returns the workflow store behind the scope.
func (s *Scope) Store() *Store {
	return s.store
}

// Stack returns the scope's context stack.
func (s *Scope) Stack() *ContextStack {
	return s.stack
}

// Fork returns a child scope with a copy of the context stack and an empty
// private write layer.
func (s *Scope) Fork() *Scope {
	return &Scope{
		store:  s.store,
		locals: NewStore(nil, WithHistorySize(1)),
		stack:  s.stack.Clone(),
		parent: s,
	}
}

// Lookup resolves path against the context stack first, then the write
// layers from innermost to the workflow store.
func (s *Scope) Lookup(path string) (any, bool) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, false
	}

	if value, ok := s.stack.Lookup(segments[0]); ok {
		found, ok := walk(value, segments[1:])
		if !ok {
			return nil, false
		}

		return models.CloneValue(found), true
	}

	return s.lookupVariable(path)
}

// lookupVariable reads path through the write layers, innermost first.
// Objects found in several layers are deep-merged with inner layers
// winning; deletions made in a layer hide the values of outer layers.
func (s *Scope) lookupVariable(path string) (any, bool) {
	found := make([]layerValue, 0, 2)
	pending := make([][]string, 0)

	for scope := s; scope != nil; scope = scope.parent {
		if scope.locals == nil {
			continue
		}

		if value, ok := scope.locals.Get(path); ok {
			found = append(found, layerValue{value: value, masks: append([][]string(nil), pending...)})

			if _, isObject := value.(map[string]any); !isObject {
				return combine(found)
			}
		}

		if scope.isMasked(path) {
			return combine(found)
		}

		pending = append(pending, scope.descendantMasks(path)...)
	}

	if value, ok := s.store.Get(path); ok {
		found = append(found, layerValue{value: value, masks: pending})
	}

	return combine(found)
}

type layerValue struct {
	value any
	masks [][]string
}

// combine folds layer values from the outermost to the innermost.
func combine(found []layerValue) (any, bool) {
	if len(found) == 0 {
		return nil, false
	}

	var result any

	for i := len(found) - 1; i >= 0; i-- {
		value := found[i].value
		for _, mask := range found[i].masks {
			value, _, _ = remove(value, mask)
		}

		current, currentIsObject := result.(map[string]any)
		next, nextIsObject := value.(map[string]any)

		if i < len(found)-1 && currentIsObject && nextIsObject {
			result = deepMerge(current, next)

			continue
		}

		result = value
	}

	return result, true
}

func deepMerge(dst, src map[string]any) map[string]any {
	for key, value := range src {
		existing, existingIsObject := dst[key].(map[string]any)
		incoming, incomingIsObject := value.(map[string]any)

		if existingIsObject && incomingIsObject {
			dst[key] = deepMerge(existing, incoming)

			continue
		}

		dst[key] = value
	}

	return dst
}

// Set writes to the scope's private layer, or to the store for a root scope.
func (s *Scope) Set(path string, value any) error {
	if s.locals == nil {
		return s.store.Set(path, value)
	}

	if err := s.locals.Set(path, value); err != nil {
		return err
	}

	s.remember(write{op: OpSet, path: path, value: models.CloneValue(value)})

	return nil
}

// Delete removes path from the scope's view and reports whether it was
// visible. In a forked scope the value stays in the store but is hidden
// from this scope and its forks.
func (s *Scope) Delete(path string) (bool, error) {
	if s.locals == nil {
		return s.store.Delete(path)
	}

	segments, err := SplitPath(path)
	if err != nil {
		return false, err
	}

	_, visible := s.lookupVariable(path)

	if _, err := s.locals.Delete(path); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.masked = append(s.masked, strings.Join(segments, "."))
	s.mu.Unlock()

	s.remember(write{op: OpDelete, path: path})

	return visible, nil
}

// Merge shallow-merges partial into the object visible at path.
func (s *Scope) Merge(path string, partial map[string]any) error {
	if s.locals == nil {
		return s.store.Merge(path, partial)
	}

	existing, _ := s.lookupVariable(path)

	merged := make(map[string]any, len(partial))
	if obj, ok := existing.(map[string]any); ok {
		for key, value := range obj {
			merged[key] = value
		}
	}

	for key, value := range partial {
		merged[key] = models.CloneValue(value)
	}

	if err := s.locals.Set(path, merged); err != nil {
		return err
	}

	s.remember(write{op: OpMerge, path: path, partial: cloneMap(partial)})

	return nil
}

// Commit replays the writes of a forked scope onto its parent, in the order
// they were made, and clears them. Committing a root scope is a no-op.
func (s *Scope) Commit() error {
	if s.parent == nil {
		return nil
	}

	s.mu.Lock()
	journal := s.journal
	s.journal = nil
	s.mu.Unlock()

	for _, w := range journal {
		var err error

		switch w.op {
		case OpSet:
			err = s.parent.Set(w.path, w.value)
		case OpDelete:
			_, err = s.parent.Delete(w.path)
		case OpMerge:
			err = s.parent.Merge(w.path, w.partial)
		}

		if err != nil {
			return fmt.Errorf("failed to commit %s %q: %w", w.op, w.path, err)
		}
	}

	return nil
}

// Rollback restores the workflow store to snapshot and drops the private
// writes of this scope. Private writes of enclosing forks are kept.
func (s *Scope) Rollback(snapshot *Snapshot) error {
	if err := s.store.RestoreSnapshot(snapshot); err != nil {
		return err
	}

	if s.locals == nil {
		return nil
	}

	if err := s.locals.RestoreSnapshot(&Snapshot{Data: map[string]any{}}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = nil
	s.masked = nil

	return nil
}

func (s *Scope) remember(w write) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, w)
}

// descendantMasks returns the deletions made in this scope below path,
// relative to it.
func (s *Scope) descendantMasks(path string) [][]string {
	segments, err := SplitPath(path)
	if err != nil {
		return nil
	}

	prefix := strings.Join(segments, ".") + "."

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]string, 0)
	for _, mask := range s.masked {
		if strings.HasPrefix(mask, prefix) {
			out = append(out, strings.Split(strings.TrimPrefix(mask, prefix), "."))
		}
	}

	return out
}

// isMasked reports whether path or one of its ancestors was deleted in
// this scope.
func (s *Scope) isMasked(path string) bool {
	segments, err := SplitPath(path)
	if err != nil {
		return false
	}

	normalized := strings.Join(segments, ".")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mask := range s.masked {
		if normalized == mask || strings.HasPrefix(normalized, mask+".") {
			return true
		}
	}

	return false
}

// Locals returns a copy of the values written in this scope.
func (s *Scope) Locals() map[string]any {
	if s.locals == nil {
		return map[string]any{}
	}

	return s.locals.All()
}

// ResolveTemplate replaces {{path}} placeholders using Lookup.
func (s *Scope) ResolveTemplate(input string) string {
	return template.Resolve(input, s.Lookup)
}

// ResolveTemplates resolves placeholders in every string of value.
func (s *Scope) ResolveTemplates(value any) any {
	return template.ResolveAll(value, s.Lookup)
}

// Data flattens the scope into a map for typed rendering: store variables,
// then private layers, then the bound frame variables.
func (s *Scope) Data() map[string]any {
	data := s.store.All()

	layers := make([]*Scope, 0)
	for scope := s; scope != nil; scope = scope.parent {
		layers = append(layers, scope)
	}

	for i := len(layers) - 1; i >= 0; i-- {
		for _, mask := range layers[i].masks() {
			segments, _ := SplitPath(mask)
			remove(data, segments)
		}

		data = deepMerge(data, layers[i].Locals())
	}

	for _, frame := range s.stack.Frames() {
		switch frame.Kind {
		case FrameIteration:
			data[frame.Iteration.ItemVariable] = models.CloneValue(frame.Iteration.Item)
			if frame.Iteration.IndexVariable != "" {
				data[frame.Iteration.IndexVariable] = frame.Iteration.CurrentIndex
			}
		case FrameRecord:
			data[CurrentAlias] = cloneMap(frame.Record.RecordData)
		}
	}

	if _, hasRecord := s.stack.CurrentRecord(); !hasRecord {
		if iteration, ok := s.stack.CurrentIteration(); ok {
			data[CurrentAlias] = models.CloneValue(iteration.Item)
		}
	}

	return data
}

func (s *Scope) masks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.masked...)
}
