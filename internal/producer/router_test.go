package producer_test

import (
	"testing"

	"github.com/reproq/reproq/internal/producer"
)

func TestRouter_ExactMatchBeforeGlob(t *testing.T) {
	r := producer.NewRouter(map[string]string{
		"reports.*":      "analytics",
		"reports.urgent": "primary",
	})
	if got := r.Resolve("reports.urgent"); got != "primary" {
		t.Errorf("got %q, want primary (exact match must win over glob)", got)
	}
	if got := r.Resolve("reports.weekly"); got != "analytics" {
		t.Errorf("got %q, want analytics", got)
	}
}

func TestRouter_FallsBackToDefaultAlias(t *testing.T) {
	r := producer.NewRouter(map[string]string{"billing": "billing-db"})
	if got := r.Resolve("unmapped-queue"); got != producer.DefaultQueueAlias {
		t.Errorf("got %q, want %q", got, producer.DefaultQueueAlias)
	}
}

func TestRouter_EmptyRoutesAlwaysDefault(t *testing.T) {
	r := producer.NewRouter(nil)
	if got := r.Resolve("anything"); got != producer.DefaultQueueAlias {
		t.Errorf("got %q, want %q", got, producer.DefaultQueueAlias)
	}
}
