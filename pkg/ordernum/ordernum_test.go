package ordernum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubCounter struct {
	counts map[string]int64
	ttls   map[string]time.Duration
}

func (s *stubCounter) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if s.counts == nil {
		s.counts = map[string]int64{}
		s.ttls = map[string]time.Duration{}
	}
	s.counts[key]++
	s.ttls[key] = ttl
	return s.counts[key], nil
}

func (s *stubCounter) CounterKey(name string) string { return "bks:counter:" + name }

func TestGeneratorNext(t *testing.T) {
	counter := &stubCounter{}
	gen := NewGenerator(counter)
	gen.now = func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}

	first, err := gen.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ORD-20260830-000001", first)

	second, err := gen.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ORD-20260830-000002", second)

	require.Equal(t, counterTTL, counter.ttls["bks:counter:order_number:20260830"])
}
