package otelhelper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/director/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, shutdown, err := NewTracer(t.Context(), "director-test", false)
	require.NoError(t, err)

	ctx, span := StartSpan(t.Context(), tracer, "resolve", attribute.String(WorkflowIDKey, "wf"))
	assert.NotNil(t, ctx)

	SetError(span, errors.New("boom"), attribute.Int(NodePositionKey, 3))
	span.End()

	assert.NoError(t, shutdown(t.Context()))
}

func TestSetError_TagsErrorKind(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := StartSpan(t.Context(), provider.Tracer("director-test"), "resolve")
	SetError(span, &models.NotFoundError{Kind: "node", WorkflowID: "wf", Ref: "missing"}, attribute.Int(NodePositionKey, 3))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String(ErrorKindKey, "not_found"))

	var event sdktrace.Event
	for _, candidate := range spans[0].Events() {
		if candidate.Name == "error_occurred" {
			event = candidate
		}
	}

	assert.Contains(t, event.Attributes, attribute.String(ErrorKindKey, "not_found"))
	assert.Contains(t, event.Attributes, attribute.Int(NodePositionKey, 3))
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "validation", ErrorKind(models.NewValidationError("params", "bad")))
	assert.Equal(t, "not_found", ErrorKind(fmt.Errorf("lookup: %w", models.ErrNotFound)))
	assert.Equal(t, "conflicting_parent", ErrorKind(models.ErrConflictingParent))
	assert.Equal(t, "partial_renumber", ErrorKind(models.ErrPartialRenumber))
	assert.Equal(t, "canceled", ErrorKind(context.Canceled))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
}
