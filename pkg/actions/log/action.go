package log_action

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/state"
)

func NewLogActionFactory() *LogActionFactory {
	return &LogActionFactory{}
}

type LogActionFactory struct {
}

func (*LogActionFactory) ID() string {
	return "log"
}

func (f *LogActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewLogAction(config), nil
}

// LogAction writes its message, already resolved against the scope, to the
// execution logger.
type LogAction struct {
	Message string
	Level   slog.Level
}

func NewLogAction(config map[string]any) *LogAction {
	message, _ := config["message"].(string)

	var level slog.Level

	if raw, ok := config["level"].(string); ok {
		if err := level.UnmarshalText([]byte(strings.ToUpper(raw))); err != nil {
			level = slog.LevelInfo
		}
	}

	return &LogAction{Message: message, Level: level}
}

func (a *LogAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, _ *state.Scope, logger *slog.Logger) (any, error) {
	logger.With("action_type", "log").Log(ctx, a.Level, a.Message, "execution_id", executionCtx.ID)

	return map[string]any{"message": a.Message}, nil
}
