package domain_test

import (
	"testing"

	"github.com/reproq/reproq/internal/domain"
)

func TestRateLimit_Disabled(t *testing.T) {
	cases := []struct {
		name string
		rl   *domain.RateLimit
		want bool
	}{
		{"nil bucket", nil, true},
		{"zero rate", &domain.RateLimit{TokensPerSecond: 0}, true},
		{"negative rate", &domain.RateLimit{TokensPerSecond: -1}, true},
		{"positive rate", &domain.RateLimit{TokensPerSecond: 5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rl.Disabled(); got != tc.want {
				t.Errorf("Disabled() = %v, want %v", got, tc.want)
			}
		})
	}
}
