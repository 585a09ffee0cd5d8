package ordernum

import (
	"context"
	"fmt"
	"time"
)

// counterTTL keeps a day's counter alive long enough to cover clock skew and
// in-flight requests around midnight, then lets redis reclaim the key.
const counterTTL = 48 * time.Hour

// Counter increments a named counter and returns the new value.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

// Generator issues human-readable order numbers like ORD-20260830-000042.
// The sequence is a daily redis counter, so numbers are unique and roughly
// ordered without a database round trip.
type Generator struct {
	counter Counter
	now     func() time.Time
}

func NewGenerator(counter Counter) *Generator {
	return &Generator{counter: counter, now: time.Now}
}

func (g *Generator) Next(ctx context.Context) (string, error) {
	day := g.now().UTC().Format("20060102")
	key := g.counter.CounterKey("order_number:" + day)
	seq, err := g.counter.IncrWithTTL(ctx, key, counterTTL)
	if err != nil {
		return "", fmt.Errorf("incrementing order counter: %w", err)
	}
	return fmt.Sprintf("ORD-%s-%06d", day, seq), nil
}
