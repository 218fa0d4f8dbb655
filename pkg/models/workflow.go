// Package models defines the core domain models for workflow graph resolution.
package models

import "time"

// Workflow groups a flat, position-indexed node list with its variables.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"                  validate:"required,min=3"`
	Description string         `json:"description"`
	Nodes       []*Node        `json:"nodes"`
	Variables   map[string]any `json:"variables"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// PositionChange records one node moved by renumbering.
type PositionChange struct {
	ID          string `json:"id"`
	OldPosition int    `json:"old_position"`
	NewPosition int    `json:"new_position"`
}
