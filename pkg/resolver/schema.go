package resolver

import (
	"embed"
	"fmt"
	"strings"

	"github.com/dukex/director/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// schemaSet holds the compiled params schemas per node type.
type schemaSet struct {
	byType map[models.NodeType]*gojsonschema.Schema
}

func loadSchemas() (*schemaSet, error) {
	set := &schemaSet{byType: make(map[models.NodeType]*gojsonschema.Schema)}

	for nodeType, file := range map[models.NodeType]string{
		models.NodeTypeRoute:   "schemas/route.json",
		models.NodeTypeIterate: "schemas/iterate.json",
	} {
		raw, err := schemaFiles.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", file, err)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", file, err)
		}

		set.byType[nodeType] = schema
	}

	return set, nil
}

// validate checks node params against the schema of its type. Types
// without a schema always pass.
func (s *schemaSet) validate(node *models.Node) error {
	schema, ok := s.byType[node.Type]
	if !ok {
		return nil
	}

	params := node.Params
	if params == nil {
		params = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return &models.ValidationError{Ref: node.Alias, Field: "params", Message: err.Error()}
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return &models.ValidationError{Ref: node.Alias, Field: "params", Message: strings.Join(messages, "; ")}
	}

	return nil
}
