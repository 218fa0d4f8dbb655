// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"github.com/dukex/director/pkg/graph"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/services"
)

// CreateWorkflowRequest represents the request body for creating a new workflow.
// Nodes are optional; when given they are normalized like an import.
type CreateWorkflowRequest struct {
	Name        string         `json:"name"               validate:"required,min=3"`
	Description string         `json:"description"`
	Variables   map[string]any `json:"variables"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner"              validate:"required"`
	Nodes       []*models.Node `json:"nodes,omitempty"`
}

// CreateNodeRequest represents the request body for creating a new workflow node.
type CreateNodeRequest struct {
	Type        string            `json:"type"                  validate:"required"`
	Alias       string            `json:"alias,omitempty"`
	Description string            `json:"description,omitempty"`
	Params      models.ParamsJSON `json:"params"`
	Position    int               `json:"position,omitempty"    validate:"min=0"`
}

func (r *CreateNodeRequest) toService() *services.CreateNodeRequest {
	return &services.CreateNodeRequest{
		Type:        models.NodeType(r.Type),
		Alias:       r.Alias,
		Description: r.Description,
		Params:      r.Params,
		Position:    r.Position,
	}
}

// UpdateNodeRequest is a partial node update. Absent fields are kept and a
// null param value removes that param.
type UpdateNodeRequest struct {
	Alias       *string           `json:"alias,omitempty"`
	Description *string           `json:"description,omitempty"`
	Params      models.ParamsJSON `json:"params,omitempty"`
	Status      *string           `json:"status,omitempty"      validate:"omitempty,oneof=pending running success error skipped"`
	Result      any               `json:"result,omitempty"`
	Position    *int              `json:"position,omitempty"    validate:"omitempty,min=1"`
}

func (r *UpdateNodeRequest) toPatch() *services.NodePatch {
	patch := &services.NodePatch{
		Alias:       r.Alias,
		Description: r.Description,
		Params:      r.Params,
		Result:      r.Result,
		Position:    r.Position,
	}

	if r.Status != nil {
		status := models.NodeStatus(*r.Status)
		patch.Status = &status
	}

	return patch
}

// ResolveRouteRequest addresses the route to resolve by position, alias or uuid.
type ResolveRouteRequest struct {
	RouteRef any `json:"routeRef" validate:"required"`
}

// ResolveIterateRequest addresses the iterate node to resolve.
type ResolveIterateRequest struct {
	IterateRef any `json:"iterateRef" validate:"required"`
}

// RunRouteRequest runs one or more branches of a route.
type RunRouteRequest struct {
	RouteRef any      `json:"routeRef" validate:"required"`
	Branches []string `json:"branches" validate:"required,min=1,dive,required"`
}

// RunIterateRequest runs the body of an iterate node over its source.
type RunIterateRequest struct {
	IterateRef any `json:"iterateRef" validate:"required"`
}

// SetVariableRequest stores value at a dotted path.
type SetVariableRequest struct {
	Path  string `json:"path"  validate:"required"`
	Value any    `json:"value"`
}

// NodesResponse is the node listing with its reconstructed forest.
type NodesResponse struct {
	Nodes    []*models.Node                   `json:"nodes"`
	Tree     *graph.Forest                    `json:"tree"`
	Dangling []*models.DanglingReferenceError `json:"dangling"`
}

// VariableResponse is the value stored at path.
type VariableResponse struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}
