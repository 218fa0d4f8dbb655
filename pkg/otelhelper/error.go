package otelhelper

import (
	"context"
	"errors"

	"github.com/dukex/director/pkg/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed and records an error event tagged with
// the error kind.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	kind := attribute.String(ErrorKindKey, ErrorKind(err))

	span.RecordError(err, trace.WithAttributes(kind))
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(kind)
	span.AddEvent("error_occurred", trace.WithAttributes(
		append([]attribute.KeyValue{kind}, attrs...)...,
	))
}

// ErrorKind classifies err for span attributes. Wrapping errors win over
// their causes.
func ErrorKind(err error) string {
	switch {
	case models.IsPartialRenumber(err):
		return "partial_renumber"
	case models.IsConflictingParent(err):
		return "conflicting_parent"
	case models.IsValidation(err):
		return "validation"
	case models.IsNotFound(err):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
