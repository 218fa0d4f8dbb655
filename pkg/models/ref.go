package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RefKind identifies how a NodeRef addresses a node.
type RefKind int

const (
	RefPosition RefKind = iota
	RefUUID
	RefAlias
)

func (k RefKind) String() string {
	switch k {
	case RefPosition:
		return "position"
	case RefUUID:
		return "uuid"
	case RefAlias:
		return "alias"
	default:
		return "unknown"
	}
}

// ErrEmptyRef is returned when a node reference is blank.
var ErrEmptyRef = errors.New("empty node reference")

// NodeRef addresses a node by position, uuid or alias.
type NodeRef struct {
	Kind     RefKind
	Position int
	Value    string
}

// PositionRef builds a position reference.
func PositionRef(position int) NodeRef {
	return NodeRef{Kind: RefPosition, Position: position}
}

// AliasRef builds an alias reference.
func AliasRef(alias string) NodeRef {
	return NodeRef{Kind: RefAlias, Value: alias}
}

// ParseNodeRef interprets v as a node reference: integers (or integer
// strings) are positions, canonical UUIDs are uuids and anything else is
// an alias.
func ParseNodeRef(v any) (NodeRef, error) {
	if position, ok := AsInt(v); ok {
		return PositionRef(position), nil
	}

	s, ok := v.(string)
	if !ok {
		return NodeRef{}, fmt.Errorf("unsupported node reference %v (%T)", v, v)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return NodeRef{}, ErrEmptyRef
	}

	if position, err := strconv.Atoi(s); err == nil {
		return PositionRef(position), nil
	}

	if _, err := uuid.Parse(s); err == nil && len(s) == 36 {
		return NodeRef{Kind: RefUUID, Value: strings.ToLower(s)}, nil
	}

	return AliasRef(s), nil
}

// Matches reports whether the reference addresses the given node.
func (r NodeRef) Matches(node *Node) bool {
	if node == nil {
		return false
	}

	switch r.Kind {
	case RefPosition:
		return node.Position == r.Position
	case RefUUID:
		return strings.EqualFold(node.UUID, r.Value)
	case RefAlias:
		return node.Alias == r.Value
	default:
		return false
	}
}

func (r NodeRef) String() string {
	if r.Kind == RefPosition {
		return strconv.Itoa(r.Position)
	}

	return r.Value
}
