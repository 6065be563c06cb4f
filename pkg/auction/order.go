package auction

import "github.com/hyunjk/darkpool/pkg/sim"

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Order is immutable once created. Identity and authenticity travel only
// in encrypted form; the key stays with the owner.
type Order struct {
	Side  Side
	Price int64
	Owner sim.AgentID

	// Codec outputs, base64 text. All of one owner's decoys in a batch
	// share the same authenticity ciphertext, which is what lets the
	// coordinator purge them together once one is revealed fake.
	EncIdentity     string
	EncAuthenticity string
}

// TradeRecord is appended to the ledger at execute time and never mutated.
type TradeRecord struct {
	ID           string
	Iteration    int
	BuyIdentity  string
	BuyPrice     int64
	SellIdentity string
	SellPrice    int64
}
