package requestid_test

import (
	"context"
	"testing"

	"github.com/reproq/reproq/internal/requestid"
)

func TestFromContext_RoundTrips(t *testing.T) {
	ctx := requestid.WithRequestID(context.Background(), "abc-123")
	if got := requestid.FromContext(ctx); got != "abc-123" {
		t.Errorf("FromContext() = %q, want abc-123", got)
	}
}

func TestFromContext_EmptyWhenAbsent(t *testing.T) {
	if got := requestid.FromContext(context.Background()); got != "" {
		t.Errorf("FromContext() = %q, want empty", got)
	}
}

func TestNew_ProducesDistinctIDs(t *testing.T) {
	if requestid.New() == requestid.New() {
		t.Fatal("expected two calls to New() to produce distinct ids")
	}
}
