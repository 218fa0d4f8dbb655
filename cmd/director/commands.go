package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dukex/director/pkg/graph"
	"github.com/dukex/director/pkg/log"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/renumber"
	"github.com/dukex/director/pkg/resolver"
	"github.com/dukex/director/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func workflowArg(command *cli.Command) (string, error) {
	id := command.Args().First()
	if id == "" {
		return "", fmt.Errorf("%s: a workflow id is required", command.Name)
	}

	return id, nil
}

func treeCommand() *cli.Command {
	return &cli.Command{
		Name:      "tree",
		Usage:     "Print the control-flow forest of a workflow",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the forest as JSON"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID, err := workflowArg(command)
			if err != nil {
				return err
			}

			return withStore(ctx, command, func(store persistence.Persistence) error {
				nodes, err := store.NodeRepository().ListNodes(ctx, workflowID)
				if err != nil {
					return err
				}

				forest, err := graph.NewBuilder(log.WithModule("cli")).Build(nodes)
				if err != nil {
					return err
				}

				if command.Bool("json") {
					return writeJSON(command.Root().Writer, forest)
				}

				printForest(command.Root().Writer, forest)

				return nil
			})
		},
	}
}

func printForest(w io.Writer, forest *graph.Forest) {
	for _, root := range forest.Roots {
		printTreeNode(w, root, 0, "")
	}

	if len(forest.Orphans) > 0 {
		_, _ = fmt.Fprintln(w, "orphans:")

		for _, orphan := range forest.Orphans {
			printTreeNode(w, orphan, 1, "")
		}
	}

	for _, dangling := range forest.Dangling {
		_, _ = fmt.Fprintf(w, "dangling: %v\n", dangling)
	}
}

func printTreeNode(w io.Writer, node *graph.TreeNode, depth int, label string) {
	indent := strings.Repeat("  ", depth)
	if label != "" {
		label = "[" + label + "] "
	}

	_, _ = fmt.Fprintf(w, "%s%s%d %s (%s)\n", indent, label, node.Position(), node.Node.Alias, node.Node.Type)

	for _, branch := range node.Paths {
		for _, child := range branch.Children {
			printTreeNode(w, child, depth+1, branch.Name)
		}
	}

	for _, child := range node.Body {
		printTreeNode(w, child, depth+1, resolver.BodyBranch)
	}

	for _, child := range node.Children {
		printTreeNode(w, child, depth+1, "")
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve one route or iterate node, or every one with --all",
		ArgsUsage: "<workflow-id> [node-ref]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "Resolve every route and iterate node"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID, err := workflowArg(command)
			if err != nil {
				return err
			}

			return withStore(ctx, command, func(store persistence.Persistence) error {
				r, err := resolver.New(store.NodeRepository(), resolver.WithLogger(log.WithModule("cli")))
				if err != nil {
					return err
				}

				if command.Bool("all") {
					report, err := r.ResolveAll(ctx, workflowID)
					if err != nil {
						return err
					}

					return writeJSON(command.Root().Writer, report)
				}

				ref, err := models.ParseNodeRef(command.Args().Get(1))
				if err != nil {
					return fmt.Errorf("resolve: %w", err)
				}

				node, err := services.NewNode(store, nil, nil, log.WithModule("cli")).Get(ctx, workflowID, ref)
				if err != nil {
					return err
				}

				var report *resolver.Report

				switch node.Type {
				case models.NodeTypeRoute:
					report, err = r.ResolveRoute(ctx, workflowID, ref)
				case models.NodeTypeIterate:
					report, err = r.ResolveIterate(ctx, workflowID, ref)
				default:
					return fmt.Errorf("resolve: node %s is a %s node", ref, node.Type)
				}

				if err != nil {
					return err
				}

				return writeJSON(command.Root().Writer, report)
			})
		},
	}
}

func renumberCommand() *cli.Command {
	return &cli.Command{
		Name:      "renumber",
		Usage:     "Renumber node positions to the preorder of the forest",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Only print the changes"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID, err := workflowArg(command)
			if err != nil {
				return err
			}

			return withStore(ctx, command, func(store persistence.Persistence) error {
				service := renumber.New(store.NodeRepository(), renumber.WithLogger(log.WithModule("cli")))

				var changes []renumber.Change

				if command.Bool("dry-run") {
					changes, err = service.Preview(ctx, workflowID)
				} else {
					changes, err = service.RenumberPreorder(ctx, workflowID)
				}

				if err != nil {
					return err
				}

				for _, change := range changes {
					_, _ = fmt.Fprintf(command.Root().Writer, "%s: %d -> %d\n", change.ID, change.OldPosition, change.NewPosition)
				}

				_, err = fmt.Fprintf(command.Root().Writer, "%d nodes moved\n", len(changes))

				return err
			})
		},
	}
}

func varsCommand() *cli.Command {
	return &cli.Command{
		Name:  "vars",
		Usage: "Read and write workflow variables",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the value at a dotted path, or every variable",
				ArgsUsage: "<workflow-id> [path]",
				Action: func(ctx context.Context, command *cli.Command) error {
					workflowID, err := workflowArg(command)
					if err != nil {
						return err
					}

					return withStore(ctx, command, func(store persistence.Persistence) error {
						variables := services.NewVariables(store.VariableRepository(), nil, nil, nil, log.WithModule("cli"))

						path := command.Args().Get(1)
						if path == "" {
							all, err := variables.All(ctx, workflowID)
							if err != nil {
								return err
							}

							return writeJSON(command.Root().Writer, all)
						}

						value, ok, err := variables.Get(ctx, workflowID, path)
						if err != nil {
							return err
						}

						if !ok {
							return fmt.Errorf("vars get: %s is not set", path)
						}

						return writeJSON(command.Root().Writer, value)
					})
				},
			},
			{
				Name:      "set",
				Usage:     "Store a value at a dotted path; the value is parsed as YAML",
				ArgsUsage: "<workflow-id> <path> <value>",
				Action: func(ctx context.Context, command *cli.Command) error {
					workflowID, err := workflowArg(command)
					if err != nil {
						return err
					}

					if command.Args().Len() != 3 {
						return fmt.Errorf("vars set: expected <workflow-id> <path> <value>")
					}

					value, err := parseValue(command.Args().Get(2))
					if err != nil {
						return err
					}

					return withStore(ctx, command, func(store persistence.Persistence) error {
						variables := services.NewVariables(store.VariableRepository(), nil, nil, nil, log.WithModule("cli"))

						return variables.Set(ctx, workflowID, command.Args().Get(1), value)
					})
				},
			},
		},
	}
}
