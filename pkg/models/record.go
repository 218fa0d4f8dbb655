package models

import "time"

// RecordStatus represents the lifecycle state of a workflow record.
type RecordStatus string

const (
	RecordStatusDiscovered RecordStatus = "discovered"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusComplete   RecordStatus = "complete"
	RecordStatusFailed     RecordStatus = "failed"
)

// Terminal reports whether no further processing happens in this status.
func (s RecordStatus) Terminal() bool {
	return s == RecordStatusComplete || s == RecordStatusFailed
}

// HistoryEntry is one append-only audit log line on a record.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
}

// RecordData separates externally sourced fields from engine-computed vars,
// side-effect targets and the audit history.
type RecordData struct {
	Fields  map[string]any `json:"fields"`
	Vars    map[string]any `json:"vars"`
	Targets map[string]any `json:"targets"`
	History []HistoryEntry `json:"history"`
}

// WorkflowRecord is a durable, identity-bearing unit processed by
// record-centric iteration.
type WorkflowRecord struct {
	RecordID           string       `json:"record_id"            validate:"required"`
	WorkflowID         string       `json:"workflow_id"          validate:"required"`
	RecordType         string       `json:"record_type"          validate:"required"`
	IterationNodeAlias string       `json:"iteration_node_alias"`
	Data               RecordData   `json:"data"`
	Status             RecordStatus `json:"status"               validate:"required,oneof=discovered processing complete failed"`
	RetryCount         int          `json:"retry_count"          validate:"gte=0"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// AppendHistory adds an audit entry. History is never rewritten.
func (r *WorkflowRecord) AppendHistory(event, detail string) {
	r.Data.History = append(r.Data.History, HistoryEntry{
		Timestamp: time.Now().UTC(),
		Event:     event,
		Detail:    detail,
	})
}

// AsMap exposes the record to template and variable lookups.
func (r *WorkflowRecord) AsMap() map[string]any {
	history := make([]any, 0, len(r.Data.History))
	for _, entry := range r.Data.History {
		history = append(history, map[string]any{
			"timestamp": entry.Timestamp.Format(time.RFC3339),
			"event":     entry.Event,
			"detail":    entry.Detail,
		})
	}

	return map[string]any{
		"id":      r.RecordID,
		"type":    r.RecordType,
		"status":  string(r.Status),
		"fields":  CloneValue(r.Data.Fields),
		"vars":    CloneValue(r.Data.Vars),
		"targets": CloneValue(r.Data.Targets),
		"history": history,
	}
}
