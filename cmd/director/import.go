package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/director/pkg/log"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/services"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// workflowDocument is the YAML layout of an imported workflow.
type workflowDocument struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Owner       string         `yaml:"owner"`
	Variables   map[string]any `yaml:"variables"`
	Metadata    map[string]any `yaml:"metadata"`
	Nodes       []nodeDocument `yaml:"nodes"`
}

type nodeDocument struct {
	UUID        string         `yaml:"uuid"`
	Position    int            `yaml:"position"`
	Alias       string         `yaml:"alias"`
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Params      map[string]any `yaml:"params"`
}

func (d *workflowDocument) toWorkflow() *models.Workflow {
	workflow := &models.Workflow{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Owner:       d.Owner,
		Variables:   d.Variables,
		Metadata:    d.Metadata,
		Nodes:       make([]*models.Node, 0, len(d.Nodes)),
	}

	for _, node := range d.Nodes {
		params := node.Params
		if params == nil {
			params = map[string]any{}
		}

		workflow.Nodes = append(workflow.Nodes, &models.Node{
			UUID:        node.UUID,
			Position:    node.Position,
			Alias:       node.Alias,
			Type:        models.NodeType(node.Type),
			Description: node.Description,
			Params:      params,
		})
	}

	return workflow
}

func parseWorkflowDocument(raw []byte) (*models.Workflow, error) {
	var document workflowDocument
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("invalid workflow document: %w", err)
	}

	return document.toWorkflow(), nil
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a workflow definition from a YAML file",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("import: a workflow file is required")
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			workflow, err := parseWorkflowDocument(raw)
			if err != nil {
				return err
			}

			return withStore(ctx, command, func(store persistence.Persistence) error {
				imported, err := services.NewWorkflow(store, log.WithModule("cli")).Import(ctx, workflow)
				if err != nil {
					return err
				}

				_, err = fmt.Fprintf(command.Root().Writer, "imported workflow %s with %d nodes\n", imported.ID, len(imported.Nodes))

				return err
			})
		},
	}
}

// parseValue reads a command line value as YAML, so 3 is a number, true a
// bool and [a, b] a list.
func parseValue(raw string) (any, error) {
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", raw, err)
	}

	return value, nil
}
