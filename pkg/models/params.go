package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Params keys shared by route and iterate nodes.
const (
	ParamBranches        = "branches"
	ParamPaths           = "paths"
	ParamBranchOrder     = "branch_order"
	ParamBranchPositions = "branch_positions"
	ParamBranch          = "branch"
	ParamBody            = "body"
	ParamBodyPositions   = "body_positions"
	ParamListVariable    = "listVariable"
	ParamItemVariable    = "itemVariable"
	ParamIndexVariable   = "indexVariable"
	ParamContinueOnError = "continueOnError"
	ParamMaxIterations   = "maxIterations"
	ParamBatchSize       = "batchSize"
	ParamRecords         = "records"
	ParamRetry           = "retry"
)

const (
	DefaultItemVariable  = "item"
	DefaultIndexVariable = "index"

	// DefaultRecordIDField is the item field naming the record a list item
	// becomes in record iteration.
	DefaultRecordIDField = "id"
)

// SpecKind discriminates the declared shape of a child set.
type SpecKind string

const (
	SpecList    SpecKind = "list"
	SpecRange   SpecKind = "range"
	SpecUnknown SpecKind = "unknown"
)

// RefSpec is a declared child set: an explicit list of references or an
// inclusive {start, end} range between two nodes.
type RefSpec struct {
	Kind  SpecKind
	Refs  []NodeRef
	Start NodeRef
	End   NodeRef
}

// ParseRefSpec decodes a branch or body declaration. An object that is
// neither a list nor a {start,end} range is a ValidationError.
func ParseRefSpec(field string, v any) (*RefSpec, error) {
	if items, ok := toSlice(v); ok {
		spec := &RefSpec{Kind: SpecList, Refs: make([]NodeRef, 0, len(items))}

		for i, item := range items {
			ref, err := ParseNodeRef(item)
			if err != nil {
				return nil, NewValidationError(fmt.Sprintf("%s[%d]", field, i), err.Error())
			}

			spec.Refs = append(spec.Refs, ref)
		}

		return spec, nil
	}

	if obj, ok := v.(map[string]any); ok {
		rawStart, hasStart := obj["start"]
		rawEnd, hasEnd := obj["end"]

		if hasStart && hasEnd {
			start, err := ParseNodeRef(rawStart)
			if err != nil {
				return nil, NewValidationError(field+".start", err.Error())
			}

			end, err := ParseNodeRef(rawEnd)
			if err != nil {
				return nil, NewValidationError(field+".end", err.Error())
			}

			return &RefSpec{Kind: SpecRange, Start: start, End: end}, nil
		}
	}

	return &RefSpec{Kind: SpecUnknown}, NewValidationError(field, "must be a position array or a {start,end} range")
}

// Encode renders the spec back into its JSON-compatible shape.
func (s *RefSpec) Encode() any {
	if s == nil {
		return nil
	}

	switch s.Kind {
	case SpecRange:
		return map[string]any{"start": encodeRef(s.Start), "end": encodeRef(s.End)}
	case SpecList:
		out := make([]any, 0, len(s.Refs))
		for _, ref := range s.Refs {
			out = append(out, encodeRef(ref))
		}

		return out
	default:
		return nil
	}
}

// Concrete reports whether the spec is a list of positions only.
func (s *RefSpec) Concrete() bool {
	if s == nil || s.Kind != SpecList {
		return false
	}

	for _, ref := range s.Refs {
		if ref.Kind != RefPosition {
			return false
		}
	}

	return true
}

// Positions returns the positions of a concrete list spec.
func (s *RefSpec) Positions() []int {
	if s == nil || s.Kind != SpecList {
		return nil
	}

	out := make([]int, 0, len(s.Refs))
	for _, ref := range s.Refs {
		if ref.Kind == RefPosition {
			out = append(out, ref.Position)
		}
	}

	return out
}

func encodeRef(ref NodeRef) any {
	if ref.Kind == RefPosition {
		return ref.Position
	}

	return ref.Value
}

// RouteFormat records which on-disk shape a route node used.
type RouteFormat string

const (
	RouteFormatBranchArray RouteFormat = "branch_array"
	RouteFormatLegacyPaths RouteFormat = "legacy_paths"
)

// Branch is the canonical in-memory form of one named route branch.
// Err holds a per-branch validation failure; the branch is then left as
// declared on write-back.
type Branch struct {
	Name         string
	Positions    []int
	HasPositions bool
	Spec         *RefSpec
	Err          error
	raw          any
}

// RouteParams normalizes both route params shapes. Format is the
// discriminator used on write-back to keep the original shape.
type RouteParams struct {
	Format   RouteFormat
	Branches []Branch
}

// ParseRouteParams decodes route params in either the branch array or the
// legacy paths format.
func ParseRouteParams(params map[string]any) (*RouteParams, error) {
	if raw, ok := params[ParamBranches]; ok {
		return parseBranchArray(raw)
	}

	if raw, ok := params[ParamPaths]; ok {
		return parseLegacyPaths(raw, params[ParamBranchOrder])
	}

	return &RouteParams{Format: RouteFormatBranchArray}, nil
}

func parseBranchArray(raw any) (*RouteParams, error) {
	items, ok := toSlice(raw)
	if !ok {
		return nil, NewValidationError(ParamBranches, "must be an array of branch descriptors")
	}

	route := &RouteParams{Format: RouteFormatBranchArray, Branches: make([]Branch, 0, len(items))}
	seen := make(map[string]bool, len(items))

	for i, item := range items {
		descriptor, ok := item.(map[string]any)
		if !ok {
			return nil, NewValidationError(fmt.Sprintf("%s[%d]", ParamBranches, i), "must be an object")
		}

		name, _ := descriptor["name"].(string)
		if name == "" {
			return nil, NewValidationError(fmt.Sprintf("%s[%d].name", ParamBranches, i), "is required")
		}

		if seen[name] {
			return nil, &ValidationError{Field: ParamBranches, Branch: name, Message: "duplicate branch name"}
		}

		seen[name] = true
		branch := Branch{Name: name}

		if rawPositions, ok := descriptor[ParamBranchPositions]; ok && rawPositions != nil {
			positions, err := parsePositions(rawPositions)
			if err != nil {
				branch.Err = &ValidationError{Field: ParamBranchPositions, Branch: name, Message: err.Error()}
			} else {
				branch.Positions = positions
				branch.HasPositions = true
			}
		}

		if rawSpec, ok := descriptor[ParamBranch]; ok && rawSpec != nil && branch.Err == nil {
			spec, err := ParseRefSpec(ParamBranch, rawSpec)
			if err != nil {
				branch.Err = withBranch(err, name)
			} else {
				branch.Spec = spec
			}
		}

		route.Branches = append(route.Branches, branch)
	}

	return route, nil
}

func parseLegacyPaths(raw any, rawOrder any) (*RouteParams, error) {
	paths, ok := raw.(map[string]any)
	if !ok {
		return nil, NewValidationError(ParamPaths, "must be an object of branch name to positions")
	}

	route := &RouteParams{Format: RouteFormatLegacyPaths, Branches: make([]Branch, 0, len(paths))}

	for _, name := range legacyBranchOrder(paths, rawOrder) {
		value := paths[name]
		branch := Branch{Name: name, raw: value}

		if positions, err := parsePositions(value); err == nil {
			branch.Positions = positions
			branch.HasPositions = true
		} else {
			spec, err := ParseRefSpec(ParamPaths+"."+name, value)
			if err != nil {
				branch.Err = withBranch(err, name)
			} else {
				branch.Spec = spec
			}
		}

		route.Branches = append(route.Branches, branch)
	}

	return route, nil
}

// legacyBranchOrder lists branch names in the declared branch_order first,
// followed by any remaining names in lexical order.
func legacyBranchOrder(paths map[string]any, rawOrder any) []string {
	names := make([]string, 0, len(paths))
	listed := make(map[string]bool, len(paths))

	if order, ok := toSlice(rawOrder); ok {
		for _, item := range order {
			name, ok := item.(string)
			if !ok || listed[name] {
				continue
			}

			if _, exists := paths[name]; exists {
				names = append(names, name)
				listed[name] = true
			}
		}
	}

	rest := make([]string, 0, len(paths))
	for name := range paths {
		if !listed[name] {
			rest = append(rest, name)
		}
	}

	sort.Strings(rest)

	return append(names, rest...)
}

// Branch returns the branch with the given name.
func (r *RouteParams) Branch(name string) (*Branch, bool) {
	for i := range r.Branches {
		if r.Branches[i].Name == name {
			return &r.Branches[i], true
		}
	}

	return nil, false
}

// EncodeInto returns a copy of params with the branch positions and specs
// written back in the original format.
func (r *RouteParams) EncodeInto(params map[string]any) map[string]any {
	out, _ := CloneValue(params).(map[string]any)
	if out == nil {
		out = make(map[string]any)
	}

	switch r.Format {
	case RouteFormatLegacyPaths:
		paths := make(map[string]any, len(r.Branches))

		for _, branch := range r.Branches {
			switch {
			case branch.Err != nil:
				paths[branch.Name] = CloneValue(branch.raw)
			case branch.HasPositions:
				paths[branch.Name] = intsToAny(branch.Positions)
			default:
				paths[branch.Name] = branch.Spec.Encode()
			}
		}

		out[ParamPaths] = paths
	default:
		existing, _ := toSlice(out[ParamBranches])
		descriptors := make([]any, 0, len(r.Branches))

		for i, branch := range r.Branches {
			descriptor := map[string]any{}
			if i < len(existing) {
				if prior, ok := existing[i].(map[string]any); ok {
					descriptor, _ = CloneValue(prior).(map[string]any)
				}
			}

			descriptor["name"] = branch.Name

			if branch.Err != nil {
				descriptors = append(descriptors, descriptor)

				continue
			}

			if branch.HasPositions {
				descriptor[ParamBranchPositions] = intsToAny(branch.Positions)
			} else {
				delete(descriptor, ParamBranchPositions)
			}

			if branch.Spec != nil {
				descriptor[ParamBranch] = branch.Spec.Encode()
			}

			descriptors = append(descriptors, descriptor)
		}

		out[ParamBranches] = descriptors
	}

	return out
}

// IterateParams is the typed form of iterate node params.
type IterateParams struct {
	ListVariable     string
	ItemVariable     string
	IndexVariable    string
	ContinueOnError  bool
	MaxIterations    int
	BatchSize        int
	RecordType       string
	RecordPattern    string
	RecordIDField    string
	UsesRecords      bool
	Body             *RefSpec
	BodyPositions    []int
	HasBodyPositions bool
}

// ParseIterateParams decodes and validates iterate params.
func ParseIterateParams(params map[string]any) (*IterateParams, error) {
	iterate := &IterateParams{
		ItemVariable:  DefaultItemVariable,
		IndexVariable: DefaultIndexVariable,
	}

	if raw, ok := params[ParamListVariable]; ok && raw != nil {
		name, ok := raw.(string)
		if !ok {
			return nil, NewValidationError(ParamListVariable, "must be a string")
		}

		iterate.ListVariable = name
	}

	for _, field := range []struct {
		key    string
		target *string
	}{
		{ParamItemVariable, &iterate.ItemVariable},
		{ParamIndexVariable, &iterate.IndexVariable},
	} {
		raw, ok := params[field.key]
		if !ok {
			continue
		}

		name, isString := raw.(string)
		if !isString || name == "" {
			return nil, NewValidationError(field.key, "must be a non-empty string")
		}

		*field.target = name
	}

	if raw, ok := params[ParamContinueOnError]; ok && raw != nil {
		flag, ok := raw.(bool)
		if !ok {
			return nil, NewValidationError(ParamContinueOnError, "must be a boolean")
		}

		iterate.ContinueOnError = flag
	}

	for _, field := range []struct {
		key    string
		target *int
	}{
		{ParamMaxIterations, &iterate.MaxIterations},
		{ParamBatchSize, &iterate.BatchSize},
	} {
		raw, ok := params[field.key]
		if !ok || raw == nil {
			continue
		}

		value, isInt := AsInt(raw)
		if !isInt || value <= 0 {
			return nil, NewValidationError(field.key, "must be a positive integer")
		}

		*field.target = value
	}

	if raw, ok := params[ParamRecords]; ok && raw != nil {
		records, ok := raw.(map[string]any)
		if !ok {
			return nil, NewValidationError(ParamRecords, "must be an object")
		}

		iterate.UsesRecords = true
		iterate.RecordType, _ = records["type"].(string)
		iterate.RecordPattern, _ = records["pattern"].(string)

		iterate.RecordIDField = DefaultRecordIDField
		if raw, ok := records["idField"]; ok && raw != nil {
			field, isString := raw.(string)
			if !isString || field == "" {
				return nil, NewValidationError(ParamRecords+".idField", "must be a non-empty string")
			}

			iterate.RecordIDField = field
		}
	}

	if raw, ok := params[ParamBodyPositions]; ok && raw != nil {
		positions, err := parsePositions(raw)
		if err != nil {
			return nil, NewValidationError(ParamBodyPositions, err.Error())
		}

		iterate.BodyPositions = positions
		iterate.HasBodyPositions = true
	}

	if raw, ok := params[ParamBody]; ok && raw != nil {
		spec, err := ParseRefSpec(ParamBody, raw)
		if err != nil {
			return nil, err
		}

		iterate.Body = spec
	}

	return iterate, nil
}

// EncodeInto returns a copy of params with body positions and body spec written back.
func (p *IterateParams) EncodeInto(params map[string]any) map[string]any {
	out, _ := CloneValue(params).(map[string]any)
	if out == nil {
		out = make(map[string]any)
	}

	if p.HasBodyPositions {
		out[ParamBodyPositions] = intsToAny(p.BodyPositions)
	} else {
		delete(out, ParamBodyPositions)
	}

	if p.Body != nil {
		out[ParamBody] = p.Body.Encode()
	}

	return out
}

// ParamsEqual compares two params maps by their canonical JSON encoding.
func ParamsEqual(a, b map[string]any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}

	right, err := json.Marshal(b)
	if err != nil {
		return false
	}

	return bytes.Equal(left, right)
}

func parsePositions(v any) ([]int, error) {
	items, ok := toSlice(v)
	if !ok {
		return nil, fmt.Errorf("must be an array of positions")
	}

	positions := make([]int, 0, len(items))

	for i, item := range items {
		position, ok := AsInt(item)
		if !ok {
			return nil, fmt.Errorf("entry %d is not an integer position", i)
		}

		positions = append(positions, position)
	}

	return positions, nil
}

func intsToAny(values []int) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}

	return out
}

func toSlice(v any) ([]any, bool) {
	switch value := v.(type) {
	case []any:
		return value, true
	case []int:
		return intsToAny(value), true
	case []float64:
		out := make([]any, 0, len(value))
		for _, f := range value {
			out = append(out, f)
		}

		return out, true
	case []string:
		out := make([]any, 0, len(value))
		for _, s := range value {
			out = append(out, s)
		}

		return out, true
	case []map[string]any:
		out := make([]any, 0, len(value))
		for _, m := range value {
			out = append(out, m)
		}

		return out, true
	default:
		return nil, false
	}
}

func withBranch(err error, branch string) error {
	if verr, ok := err.(*ValidationError); ok {
		verr.Branch = branch

		return verr
	}

	return err
}

// DecodeParams decodes a params object. A legacy paths object without a
// branch_order gets one listing its branch names in document order.
func DecodeParams(data []byte) (map[string]any, error) {
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}

	if _, ok := params[ParamPaths].(map[string]any); !ok {
		return params, nil
	}

	if _, ok := params[ParamBranchOrder]; ok {
		return params, nil
	}

	if order := pathsOrder(data); len(order) > 0 {
		params[ParamBranchOrder] = order
	}

	return params, nil
}

// ParamsJSON is a params map decoded with DecodeParams.
type ParamsJSON map[string]any

func (p *ParamsJSON) UnmarshalJSON(data []byte) error {
	params, err := DecodeParams(data)
	if err != nil {
		return err
	}

	*p = params

	return nil
}

// pathsOrder lists the keys of the top-level paths object in document order.
func pathsOrder(data []byte) []any {
	dec := json.NewDecoder(bytes.NewReader(data))

	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}

		if key, _ := tok.(string); key != ParamPaths {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil
			}

			continue
		}

		if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
			return nil
		}

		names := make([]any, 0)

		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil
			}

			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil
			}

			names = append(names, tok)
		}

		return names
	}

	return nil
}
