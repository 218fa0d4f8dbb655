package state

import (
	"sync"

	"github.com/dukex/director/pkg/models"
)

// CurrentAlias resolves to the innermost record frame, or the innermost
// iteration item when no record is active.
const CurrentAlias = "current"

// FrameKind discriminates context frames.
type FrameKind string

const (
	FrameIteration FrameKind = "iteration"
	FrameRecord    FrameKind = "record"
)

// IterationFrame scopes one pass through a loop body.
type IterationFrame struct {
	NodePosition  int    `json:"node_position"`
	CurrentIndex  int    `json:"current_index"`
	ItemVariable  string `json:"item_variable"`
	IndexVariable string `json:"index_variable,omitempty"`
	Item          any    `json:"item"`
	Total         int    `json:"total"`
}

// RecordFrame scopes the record being processed.
type RecordFrame struct {
	RecordID   string         `json:"record_id"`
	RecordData map[string]any `json:"record_data"`
}

// Frame is one entry of the context stack.
type Frame struct {
	Kind      FrameKind       `json:"kind"`
	Iteration *IterationFrame `json:"iteration,omitempty"`
	Record    *RecordFrame    `json:"record,omitempty"`
}

// ContextStack is a strictly LIFO stack of iteration and record frames.
// Popping an empty stack is a no-op.
type ContextStack struct {
	mu     sync.RWMutex
	frames []Frame
}

// NewContextStack creates an empty stack.
func NewContextStack() *ContextStack {
	return &ContextStack{frames: make([]Frame, 0)}
}

// PushIteration enters a loop body pass.
func (c *ContextStack) PushIteration(frame IterationFrame) {
	if frame.ItemVariable == "" {
		frame.ItemVariable = models.DefaultItemVariable
	}

	frame.Item = models.CloneValue(frame.Item)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames = append(c.frames, Frame{Kind: FrameIteration, Iteration: &frame})
}

// PopIteration leaves the loop body pass on top of the stack.
func (c *ContextStack) PopIteration() (*IterationFrame, bool) {
	frame, ok := c.pop(FrameIteration)
	if !ok {
		return nil, false
	}

	return frame.Iteration, true
}

// PushRecord enters processing of a record.
func (c *ContextStack) PushRecord(recordID string, recordData map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames = append(c.frames, Frame{
		Kind:   FrameRecord,
		Record: &RecordFrame{RecordID: recordID, RecordData: cloneMap(recordData)},
	})
}

// PopRecord leaves the record on top of the stack.
func (c *ContextStack) PopRecord() (*RecordFrame, bool) {
	frame, ok := c.pop(FrameRecord)
	if !ok {
		return nil, false
	}

	return frame.Record, true
}

// CurrentRecord returns the innermost record frame.
func (c *ContextStack) CurrentRecord() (*RecordFrame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Kind == FrameRecord {
			return c.frames[i].Record, true
		}
	}

	return nil, false
}

// CurrentIteration returns the innermost iteration frame.
func (c *ContextStack) CurrentIteration() (*IterationFrame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Kind == FrameIteration {
			return c.frames[i].Iteration, true
		}
	}

	return nil, false
}

// Depth returns the number of frames on the stack.
func (c *ContextStack) Depth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.frames)
}

// Frames returns a copy of the stack, outermost first.
func (c *ContextStack) Frames() []Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]Frame(nil), c.frames...)
}

// Lookup resolves name against the innermost frame that binds it: an
// iteration frame's item or index variable, or the current alias.
func (c *ContextStack) Lookup(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.frames) - 1; i >= 0; i-- {
		frame := c.frames[i]

		switch frame.Kind {
		case FrameIteration:
			if frame.Iteration.ItemVariable == name {
				return frame.Iteration.Item, true
			}

			if frame.Iteration.IndexVariable != "" && frame.Iteration.IndexVariable == name {
				return frame.Iteration.CurrentIndex, true
			}
		case FrameRecord:
			if name == CurrentAlias {
				return frame.Record.RecordData, true
			}
		}
	}

	if name == CurrentAlias {
		for i := len(c.frames) - 1; i >= 0; i-- {
			if c.frames[i].Kind == FrameIteration {
				return c.frames[i].Iteration.Item, true
			}
		}
	}

	return nil, false
}

// Clone copies the stack. Frame values are deep copied.
func (c *ContextStack) Clone() *ContextStack {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &ContextStack{frames: make([]Frame, 0, len(c.frames))}

	for _, frame := range c.frames {
		switch frame.Kind {
		case FrameIteration:
			iteration := *frame.Iteration
			iteration.Item = models.CloneValue(iteration.Item)
			clone.frames = append(clone.frames, Frame{Kind: FrameIteration, Iteration: &iteration})
		case FrameRecord:
			clone.frames = append(clone.frames, Frame{
				Kind:   FrameRecord,
				Record: &RecordFrame{RecordID: frame.Record.RecordID, RecordData: cloneMap(frame.Record.RecordData)},
			})
		}
	}

	return clone
}

// pop removes the top frame when it is of kind. A top frame of another
// kind stays in place and the call is a no-op.
func (c *ContextStack) pop(kind FrameKind) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	top := len(c.frames) - 1
	if top < 0 || c.frames[top].Kind != kind {
		return Frame{}, false
	}

	frame := c.frames[top]
	c.frames = c.frames[:top]

	return frame, true
}
