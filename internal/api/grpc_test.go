package api

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/constellation-router/internal/logging"
)

func TestRequestIDInterceptor(t *testing.T) {
	var buf bytes.Buffer
	intercept := RequestIDUnaryServerInterceptor(logging.New(logging.Config{Format: "json", Output: &buf}))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	handler := func(ctx context.Context, req any) (any, error) {
		l := logging.LoggerFromContext(ctx)
		require.NotNil(t, l)
		l.Info(ctx, "handled")
		return req, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "abc-123"))
	resp, err := intercept(ctx, "ping", info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ping", resp)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "abc-123", line["request_id"])
	assert.Equal(t, info.FullMethod, line["method"])

	buf.Reset()
	_, err = intercept(context.Background(), "ping", info, handler)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Len(t, line["request_id"], 36)
}
