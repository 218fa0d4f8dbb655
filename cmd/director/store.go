package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/dukex/director/pkg/cmd"
	"github.com/dukex/director/pkg/log"
	"github.com/dukex/director/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

// withStore opens the configured persistence for the duration of fn.
func withStore(ctx context.Context, command *cli.Command, fn func(store persistence.Persistence) error) error {
	logger := log.WithModule("cli")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	return fn(store)
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}
