package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the graph resolution taxonomy. Typed errors below
// wrap them so callers can classify with errors.Is.
var (
	ErrDanglingReference = errors.New("dangling reference")
	ErrConflictingParent = errors.New("conflicting parent")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrPartialRenumber   = errors.New("renumbering aborted partway")
)

// DanglingReferenceError reports a branch or body entry pointing at a
// position that does not exist. It is never fatal: the reference is skipped.
type DanglingReferenceError struct {
	NodePosition int    `json:"node_position"`
	NodeAlias    string `json:"node_alias,omitempty"`
	Branch       string `json:"branch,omitempty"`
	Reference    string `json:"reference"`
}

func (e *DanglingReferenceError) Error() string {
	if e.Branch != "" {
		return fmt.Sprintf("node %d branch %q references missing node %s", e.NodePosition, e.Branch, e.Reference)
	}

	return fmt.Sprintf("node %d references missing node %s", e.NodePosition, e.Reference)
}

func (e *DanglingReferenceError) Unwrap() error {
	return ErrDanglingReference
}

// ConflictingParentError reports two different parents claiming the same
// child, or a parent chain that loops back on itself.
type ConflictingParentError struct {
	Child          int    `json:"child"`
	ExistingParent int    `json:"existing_parent"`
	ClaimedParent  int    `json:"claimed_parent"`
	Message        string `json:"message,omitempty"`
}

func (e *ConflictingParentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("node %d: %s", e.Child, e.Message)
	}

	return fmt.Sprintf("node %d claimed by parent %d but already owned by parent %d", e.Child, e.ClaimedParent, e.ExistingParent)
}

func (e *ConflictingParentError) Unwrap() error {
	return ErrConflictingParent
}

// NotFoundError reports a node, record or workflow reference that does not resolve.
type NotFoundError struct {
	Kind       string
	WorkflowID string
	Ref        string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found in workflow %s", e.Kind, e.Ref, e.WorkflowID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNodeNotFound creates a NotFoundError for a node reference.
func NewNodeNotFound(workflowID string, ref NodeRef) *NotFoundError {
	return &NotFoundError{Kind: "node " + ref.Kind.String(), WorkflowID: workflowID, Ref: ref.String()}
}

// ValidationError reports malformed route or iterate params.
type ValidationError struct {
	Ref     string `json:"ref,omitempty"`
	Field   string `json:"field,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}

	if e.Branch != "" {
		msg = fmt.Sprintf("branch %q: %s", e.Branch, msg)
	}

	if e.Ref != "" {
		return fmt.Sprintf("node %s: %s", e.Ref, msg)
	}

	return msg
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a ValidationError for a params field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PartialRenumberError reports a renumbering that stopped after applying
// some position updates. Callers must re-read the workflow.
type PartialRenumberError struct {
	WorkflowID string
	Applied    int
	Failed     string
	Cause      error
}

func (e *PartialRenumberError) Error() string {
	return fmt.Sprintf("renumbering workflow %s stopped after %d updates at node %s: %v", e.WorkflowID, e.Applied, e.Failed, e.Cause)
}

func (e *PartialRenumberError) Unwrap() []error {
	return []error{ErrPartialRenumber, e.Cause}
}

// IsNotFound checks if an error indicates a missing node, record or workflow.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error indicates malformed params or input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflictingParent checks if an error indicates an ambiguous or cyclic parent claim.
func IsConflictingParent(err error) bool {
	return errors.Is(err, ErrConflictingParent)
}

// IsPartialRenumber checks if an error indicates an aborted renumbering.
func IsPartialRenumber(err error) bool {
	return errors.Is(err, ErrPartialRenumber)
}
