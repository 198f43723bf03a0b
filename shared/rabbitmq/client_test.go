package rabbitmq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishRetryDelay(t *testing.T) {
	tests := []struct {
		name       string
		base       time.Duration
		multiplier float64
		attempt    int
		want       time.Duration
	}{
		{"first retry uses base delay", 500 * time.Millisecond, 2.0, 0, 500 * time.Millisecond},
		{"second retry doubles", 500 * time.Millisecond, 2.0, 1, time.Second},
		{"third retry doubles again", 500 * time.Millisecond, 2.0, 2, 2 * time.Second},
		{"custom multiplier", 100 * time.Millisecond, 3.0, 2, 900 * time.Millisecond},
		{"zero base falls back to default", 0, 2.0, 1, 200 * time.Millisecond},
		{"zero multiplier falls back to doubling", time.Second, 0, 1, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{config: &Config{
				PublishRetryDelay:  tt.base,
				PublishBackoffMult: tt.multiplier,
			}}
			assert.Equal(t, tt.want, c.publishRetryDelay(tt.attempt))
		})
	}
}
