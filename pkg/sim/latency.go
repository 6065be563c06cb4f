package sim

import (
	"math/rand"
	"time"
)

// LatencyModel assigns each directed link a base delay sampled once from
// [MinLatency, MaxLatency], then jitters every message by up to Jitter
// (a fraction of the base) in either direction.
type LatencyModel struct {
	MinLatency time.Duration
	MaxLatency time.Duration
	Jitter     float64

	rng  *rand.Rand
	base map[[2]AgentID]time.Duration
}

func NewLatencyModel(min, max time.Duration, jitter float64, rng *rand.Rand) *LatencyModel {
	if max < min {
		max = min
	}
	return &LatencyModel{
		MinLatency: min,
		MaxLatency: max,
		Jitter:     jitter,
		rng:        rng,
		base:       make(map[[2]AgentID]time.Duration),
	}
}

func (m *LatencyModel) Delay(from, to AgentID) time.Duration {
	link := [2]AgentID{from, to}
	base, ok := m.base[link]
	if !ok {
		span := m.MaxLatency - m.MinLatency
		base = m.MinLatency
		if span > 0 {
			base += time.Duration(m.rng.Int63n(int64(span)))
		}
		m.base[link] = base
	}

	d := base
	if m.Jitter > 0 {
		f := 1 + m.Jitter*(2*m.rng.Float64()-1)
		d = time.Duration(float64(base) * f)
	}
	if d < 0 {
		d = 0
	}
	return d
}
