package auction

import "time"

// Timings accumulates wall-clock elapsed time per protocol phase. Owned by
// the agent that produced it and returned with the run results; merging is
// additive, so shares from several agents can be folded together.
type Timings struct {
	Place   time.Duration
	Match   time.Duration
	Reveal  time.Duration
	Execute time.Duration
}

func (t *Timings) Merge(other Timings) {
	t.Place += other.Place
	t.Match += other.Match
	t.Reveal += other.Reveal
	t.Execute += other.Execute
}

// PerIteration scales the accumulators to a mean over n iterations.
func (t Timings) PerIteration(n int) Timings {
	if n <= 0 {
		return t
	}
	return Timings{
		Place:   t.Place / time.Duration(n),
		Match:   t.Match / time.Duration(n),
		Reveal:  t.Reveal / time.Duration(n),
		Execute: t.Execute / time.Duration(n),
	}
}

// Results is the explicit output of a simulation run.
type Results struct {
	Trades         []TradeRecord
	Iterations     int
	Stalled        int // iterations ended by phase timeout
	TotalOrders    int
	ExecutedOrders int

	Coordinator Timings
	Clients     Timings // summed over all participants
	NumClients  int
}
