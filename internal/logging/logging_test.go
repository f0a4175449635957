package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestJSONLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info(context.Background(), "dropped")
	log.Warn(context.Background(), "frame failed", Int("frame", 7), Err(errors.New("boom")), Bool("rebuild", true))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "frame failed", lines[0]["msg"])
	assert.Equal(t, float64(7), lines[0]["frame"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, true, lines[0]["rebuild"])
}

func TestRunLoggerSharesOneID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "debug", Format: "json", Output: &buf})

	ctx, log := WithRunLogger(context.Background(), base)
	id := RunIDFromContext(ctx)
	require.NotEmpty(t, id)

	again, same := EnsureRunID(ctx)
	assert.Equal(t, id, same)
	assert.Equal(t, ctx, again)

	log.Debug(ctx, "one")
	log.Debug(ctx, "two")
	for _, line := range decodeLines(t, &buf) {
		assert.Equal(t, id, line["run_id"])
	}
}

func TestLoggerFromContext(t *testing.T) {
	assert.Nil(t, LoggerFromContext(context.Background()))

	ctx := ContextWithLogger(context.Background(), nil)
	assert.Equal(t, Noop(), LoggerFromContext(ctx))

	l := New(Config{Output: &bytes.Buffer{}})
	assert.Same(t, l, LoggerFromContext(ContextWithLogger(context.Background(), l)))
}

func TestLogsInsideSpanCarryTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "frame")
	log.With(Int("frame", 3)).Debug(ctx, "frame processed")
	span.End()
	log.Debug(context.Background(), "between frames")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	sc := span.SpanContext()
	assert.Equal(t, sc.TraceID().String(), lines[0]["trace_id"])
	assert.Equal(t, sc.SpanID().String(), lines[0]["span_id"])
	assert.Equal(t, float64(3), lines[0]["frame"])
	assert.NotContains(t, lines[1], "trace_id")
}
