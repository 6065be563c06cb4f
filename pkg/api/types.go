package api

// API response types for REST endpoints and WebSocket messages.

// TradeInfo is one executed trade from the ledger.
type TradeInfo struct {
	ID           string `json:"id"`
	Iteration    int    `json:"iteration"`
	BuyIdentity  string `json:"buyIdentity"`
	BuyPrice     int64  `json:"buyPrice"`
	SellIdentity string `json:"sellIdentity"`
	SellPrice    int64  `json:"sellPrice"`
}

// PhaseTimings reports mean per-iteration elapsed time per phase, in
// nanoseconds.
type PhaseTimings struct {
	Place   int64 `json:"placeNs"`
	Match   int64 `json:"matchNs"`
	Reveal  int64 `json:"revealNs"`
	Execute int64 `json:"executeNs"`
}

// RunSummary is the top-level view of a finished run.
type RunSummary struct {
	Clients        int          `json:"clients"`
	Iterations     int          `json:"iterations"`
	Stalled        int          `json:"stalled"`
	TotalOrders    int          `json:"totalOrders"`
	ExecutedOrders int          `json:"executedOrders"`
	Trades         int          `json:"trades"`
	Coordinator    PhaseTimings `json:"coordinator"`
	ClientMean     PhaseTimings `json:"clientMean"`
}
