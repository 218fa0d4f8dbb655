// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/director/pkg/actions/checkpoint"
	logaction "github.com/dukex/director/pkg/actions/log"
	"github.com/dukex/director/pkg/actions/transform"
	"github.com/dukex/director/pkg/actions/variables"
	"github.com/dukex/director/pkg/registry"
)

func registerNativeActions(reg *registry.Registry) {
	reg.RegisterAction(transform.NewTransformActionFactory())
	reg.RegisterAction(logaction.NewLogActionFactory())
	reg.RegisterAction(variables.NewContextActionFactory())
	reg.RegisterAction(checkpoint.NewCheckpointActionFactory())
}

// NewRegistry returns a registry holding the built-in actions.
func NewRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeActions(reg)

	return reg
}
