package core

import (
	"strings"
	"time"
)

// Span is a single recorded invocation as sent by the span ingestion pipeline.
// Times are epoch nanoseconds.
type Span struct {
	SpanID          string `json:"spanId" validate:"required"`
	TraceID         string `json:"traceId" validate:"required"`
	ParentID        string `json:"parentId,omitempty"`
	LandscapeToken  string `json:"landscapeToken" validate:"required"`
	ApplicationName string `json:"applicationName" validate:"required"`
	FunctionFQN     string `json:"functionFqn" validate:"required"`
	StartTime       int64  `json:"startTime" validate:"gte=0"`
	EndTime         int64  `json:"endTime" validate:"gtefield=StartTime"`
}

// Timestamp summarises one trace of a landscape.
type Timestamp struct {
	EpochNano int64 `json:"epochNano"`
	SpanCount int   `json:"spanCount"`
}

// FallbackTimestamps is returned for landscapes without any traces so that
// clients always receive at least one entry.
func FallbackTimestamps(now time.Time) []Timestamp {
	return []Timestamp{{EpochNano: now.UnixNano(), SpanCount: 0}}
}

// Function is a function or method known to a landscape.
type Function struct {
	FQN  string `json:"fqn"`
	Name string `json:"name"`
}

// NewFunction derives the short name from a fully qualified name.
func NewFunction(fqn string) Function {
	name := fqn
	if idx := strings.LastIndex(fqn, "."); idx >= 0 && idx < len(fqn)-1 {
		name = fqn[idx+1:]
	}
	return Function{FQN: fqn, Name: name}
}

// Application groups the functions observed for one instrumented program.
type Application struct {
	Name      string     `json:"name"`
	Functions []Function `json:"functions"`
}
