package auction

// Protocol messages, exchanged as tagged records through the kernel.
// Delivery on one link is FIFO; nothing is assumed about ordering across
// senders, so the coordinator gates every phase transition on counting
// the replies it expects.

// SendOrders: coordinator -> all participants at the start of Init. The
// coordinator re-sends it on every Init poll; participants treat it as
// idempotent per iteration.
type SendOrders struct {
	Iteration int
	Total     int // participant population, used for the side split
}

// OrderBatch: participant -> coordinator, the full batch for an iteration.
type OrderBatch struct {
	Iteration int
	Orders    []Order
}

// MatchRequest: coordinator -> the two owners of the candidate pair,
// asking each to reveal the authenticity of its own order.
type MatchRequest struct {
	Iteration int
	BuyOrder  Order
	SellOrder Order
}

// MatchReply: owner -> coordinator with the decrypted authenticity of the
// candidate order it authored.
type MatchReply struct {
	Iteration int
	Order     Order
	Side      Side
	Genuine   bool
}

// ExecuteRequest: coordinator -> both owners announcing a confirmed match
// and the clearing prices.
type ExecuteRequest struct {
	Iteration int
	BuyOrder  Order
	SellOrder Order
	BuyPrice  int64
	SellPrice int64
}

// ExecuteReply: owner -> coordinator disclosing its identity in clear.
type ExecuteReply struct {
	Iteration int
	Side      Side
	Identity  string
	Price     int64
}
