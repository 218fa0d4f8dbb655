// Package state holds a workflow's runtime variables, the iteration and
// record frames layered over them, and template resolution against both.
package state

import (
	"errors"
	"strconv"
	"strings"

	"github.com/dukex/director/pkg/models"
)

// ErrEmptyPath is returned by mutations given a blank path.
var ErrEmptyPath = errors.New("variable path is empty")

// SplitPath converts "items[0].name" into ["items", "0", "name"].
func SplitPath(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}

	normalized := strings.NewReplacer("[", ".", "]", "").Replace(path)

	segments := make([]string, 0, strings.Count(normalized, ".")+1)
	for _, segment := range strings.Split(normalized, ".") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}

	if len(segments) == 0 {
		return nil, ErrEmptyPath
	}

	return segments, nil
}

// walk descends into value following segments.
func walk(value any, segments []string) (any, bool) {
	current := value

	for _, segment := range segments {
		switch container := current.(type) {
		case map[string]any:
			next, ok := container[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(container) {
				return nil, false
			}

			current = container[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// assign stores value at segments under container, creating intermediate
// maps (or lists, for numeric segments) as needed. It returns the possibly
// reallocated container and the previous value.
func assign(container any, segments []string, value any) (any, any) {
	if len(segments) == 0 {
		return value, container
	}

	head, rest := segments[0], segments[1:]

	if list, ok := container.([]any); ok {
		if index, err := strconv.Atoi(head); err == nil && index >= 0 {
			for len(list) <= index {
				list = append(list, nil)
			}

			updated, old := assign(list[index], rest, value)
			list[index] = updated

			return list, old
		}
	}

	obj, ok := container.(map[string]any)
	if !ok {
		obj = make(map[string]any)
	}

	child, exists := obj[head]
	if !exists && len(rest) > 0 {
		child = newContainer(rest[0])
	}

	updated, old := assign(child, rest, value)
	obj[head] = updated

	return obj, old
}

func newContainer(nextSegment string) any {
	if index, err := strconv.Atoi(nextSegment); err == nil && index >= 0 {
		return make([]any, 0, index+1)
	}

	return make(map[string]any)
}

// remove deletes the value at segments and reports whether it existed.
// Removing a list element splices it out.
func remove(container any, segments []string) (any, any, bool) {
	head := segments[0]

	if len(segments) == 1 {
		switch c := container.(type) {
		case map[string]any:
			old, ok := c[head]
			if ok {
				delete(c, head)
			}

			return c, old, ok
		case []any:
			index, err := strconv.Atoi(head)
			if err != nil || index < 0 || index >= len(c) {
				return c, nil, false
			}

			old := c[index]

			return append(c[:index], c[index+1:]...), old, true
		default:
			return container, nil, false
		}
	}

	switch c := container.(type) {
	case map[string]any:
		child, ok := c[head]
		if !ok {
			return c, nil, false
		}

		updated, old, removed := remove(child, segments[1:])
		c[head] = updated

		return c, old, removed
	case []any:
		index, err := strconv.Atoi(head)
		if err != nil || index < 0 || index >= len(c) {
			return c, nil, false
		}

		updated, old, removed := remove(c[index], segments[1:])
		c[index] = updated

		return c, old, removed
	default:
		return container, nil, false
	}
}

func cloneMap(m map[string]any) map[string]any {
	out, _ := models.CloneValue(m).(map[string]any)
	if out == nil {
		out = make(map[string]any)
	}

	return out
}
