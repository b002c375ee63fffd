package log_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	internallog "github.com/reproq/reproq/internal/log"
	"github.com/reproq/reproq/internal/requestid"
)

func TestContextHandler_InjectsRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(internallog.NewContextHandler(base))

	ctx := requestid.WithRequestID(context.Background(), "req-42")
	logger.InfoContext(ctx, "hello")

	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Fatalf("log output missing request_id attr: %s", buf.String())
	}
}

func TestContextHandler_OmitsRequestIDWhenAbsent(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(internallog.NewContextHandler(base))

	logger.InfoContext(context.Background(), "hello")

	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("log output should not contain request_id: %s", buf.String())
	}
}

func TestContextHandler_WithAttrsPreservesWrapping(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(internallog.NewContextHandler(base)).With("component", "test")

	ctx := requestid.WithRequestID(context.Background(), "req-7")
	logger.InfoContext(ctx, "hi")

	out := buf.String()
	if !strings.Contains(out, `"component":"test"`) || !strings.Contains(out, `"request_id":"req-7"`) {
		t.Fatalf("expected both component and request_id attrs, got: %s", out)
	}
}
