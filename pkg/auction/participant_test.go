package auction

import (
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyunjk/darkpool/pkg/crypto"
	"github.com/hyunjk/darkpool/pkg/sim"
	"github.com/hyunjk/darkpool/pkg/util"
)

type sink struct {
	id   sim.AgentID
	msgs []any
}

func (s *sink) ID() sim.AgentID      { return s.id }
func (s *sink) WakeUp(time.Duration) {}
func (s *sink) Receive(now time.Duration, from sim.AgentID, msg any) {
	s.msgs = append(s.msgs, msg)
}

var testPCfg = ParticipantConfig{
	BatchSize:     8,
	MinReal:       5,
	MaxReal:       7,
	BuyPriceLow:   99,
	BuyPriceHigh:  101,
	SellPriceLow:  98,
	SellPriceHigh: 100,
}

func newTestParticipant(t *testing.T, index int, seed string) (*Participant, *sink, *sim.Kernel) {
	t.Helper()
	log := zap.NewNop().Sugar()
	rng := rand.New(rand.NewSource(11))
	lm := sim.NewLatencyModel(time.Microsecond, time.Microsecond, 0, rng)
	kernel := sim.NewKernel(lm, 0, log)

	coord := &sink{id: 0}
	p := NewParticipant(sim.AgentID(index), index, kernel, 0, testPCfg,
		rand.New(rand.NewSource(int64(index))), util.RealClock{}, log)
	p.SetKeySeed([]byte(seed))

	if err := kernel.Register(coord); err != nil {
		t.Fatal(err)
	}
	if err := kernel.Register(p); err != nil {
		t.Fatal(err)
	}
	return p, coord, kernel
}

func requestBatch(t *testing.T, p *Participant, coord *sink, kernel *sim.Kernel, iteration int) []Order {
	t.Helper()
	p.Receive(0, 0, SendOrders{Iteration: iteration, Total: 8})
	if err := kernel.Run(); err != nil {
		t.Fatal(err)
	}
	for _, m := range coord.msgs {
		if b, ok := m.(OrderBatch); ok && b.Iteration == iteration {
			return b.Orders
		}
	}
	t.Fatalf("no batch for iteration %d received", iteration)
	return nil
}

func TestBatchShape(t *testing.T) {
	p, coord, kernel := newTestParticipant(t, 1, "seed-a")
	batch := requestBatch(t, p, coord, kernel, 1)

	if len(batch) != 8 {
		t.Fatalf("batch size %d, want 8", len(batch))
	}

	key := crypto.DeriveKey([]byte("seed-a"), 1)
	real, fake := 0, 0
	for _, o := range batch {
		if o.Side != Buy {
			t.Errorf("participant 1 of 8 must buy, got %v", o.Side)
		}
		if o.Price < 99 || o.Price > 101 {
			t.Errorf("buy price %d outside band [99,101]", o.Price)
		}
		if o.Price != batch[0].Price {
			t.Errorf("all orders in a batch share one price")
		}
		name, ok := crypto.Decrypt(key, o.EncIdentity)
		if !ok || name != p.Name() {
			t.Fatalf("identity field does not decrypt to the owner's name")
		}
		status, ok := crypto.Decrypt(key, o.EncAuthenticity)
		if !ok {
			t.Fatal("authenticity field does not decrypt")
		}
		switch status {
		case "true":
			real++
		case "false":
			fake++
			if o.EncAuthenticity != batch[len(batch)-1].EncAuthenticity {
				t.Error("decoys must share one authenticity ciphertext")
			}
		default:
			t.Fatalf("authenticity plaintext %q", status)
		}
	}
	if real < 5 || real > 7 || real+fake != 8 {
		t.Fatalf("batch split real=%d fake=%d, want 5..7 real of 8", real, fake)
	}
}

func TestSellSideBand(t *testing.T) {
	p, coord, kernel := newTestParticipant(t, 6, "seed-b")
	batch := requestBatch(t, p, coord, kernel, 1)

	for _, o := range batch {
		if o.Side != Sell {
			t.Errorf("participant 6 of 8 must sell, got %v", o.Side)
		}
		if o.Price < 98 || o.Price > 100 {
			t.Errorf("sell price %d outside band [98,100]", o.Price)
		}
	}
}

func TestSendOrdersIdempotentPerIteration(t *testing.T) {
	p, coord, kernel := newTestParticipant(t, 1, "seed-c")
	requestBatch(t, p, coord, kernel, 1)

	p.Receive(0, 0, SendOrders{Iteration: 1, Total: 8})
	if err := kernel.Run(); err != nil {
		t.Fatal(err)
	}

	batches := 0
	for _, m := range coord.msgs {
		if _, ok := m.(OrderBatch); ok {
			batches++
		}
	}
	if batches != 1 {
		t.Fatalf("got %d batches for one iteration, want 1", batches)
	}
}

func TestKeyRotatesPerIteration(t *testing.T) {
	p, coord, kernel := newTestParticipant(t, 1, "seed-d")
	b1 := requestBatch(t, p, coord, kernel, 1)
	b2 := requestBatch(t, p, coord, kernel, 2)

	k1 := crypto.DeriveKey([]byte("seed-d"), 1)
	if _, ok := crypto.Decrypt(k1, b1[0].EncIdentity); !ok {
		t.Fatal("iteration 1 batch must decrypt under iteration 1 key")
	}
	if name, ok := crypto.Decrypt(k1, b2[0].EncIdentity); ok && name == p.Name() {
		t.Fatal("iteration 2 batch must not decrypt under iteration 1 key")
	}
}

func TestRevealOwnOrder(t *testing.T) {
	p, coord, kernel := newTestParticipant(t, 1, "seed-e")
	batch := requestBatch(t, p, coord, kernel, 1)

	key := crypto.DeriveKey([]byte("seed-e"), 1)
	var genuine, decoy Order
	for _, o := range batch {
		if s, _ := crypto.Decrypt(key, o.EncAuthenticity); s == "true" {
			genuine = o
		} else {
			decoy = o
		}
	}

	foreign := Order{Side: Sell, Price: 99, Owner: 2, EncIdentity: "junk", EncAuthenticity: "junk"}

	coord.msgs = nil
	p.Receive(0, 0, MatchRequest{Iteration: 1, BuyOrder: genuine, SellOrder: foreign})
	p.Receive(0, 0, MatchRequest{Iteration: 1, BuyOrder: decoy, SellOrder: foreign})
	if err := kernel.Run(); err != nil {
		t.Fatal(err)
	}

	if len(coord.msgs) != 2 {
		t.Fatalf("got %d replies, want 2", len(coord.msgs))
	}
	r1 := coord.msgs[0].(MatchReply)
	r2 := coord.msgs[1].(MatchReply)
	if !r1.Genuine || r1.Side != Buy {
		t.Errorf("genuine order revealed as %+v", r1)
	}
	if r2.Genuine {
		t.Errorf("decoy revealed as genuine")
	}
}

func TestIgnoresForeignOrders(t *testing.T) {
	p, coord, kernel := newTestParticipant(t, 1, "seed-f")
	requestBatch(t, p, coord, kernel, 1)

	otherKey := crypto.DeriveKey([]byte("someone-else"), 1)
	encName, err := crypto.Encrypt(otherKey, "DarkPool Client Agent 9")
	if err != nil {
		t.Fatal(err)
	}
	foreignBuy := Order{Side: Buy, Price: 101, Owner: 9, EncIdentity: encName}
	foreignSell := Order{Side: Sell, Price: 99, Owner: 8, EncIdentity: "garbage"}

	coord.msgs = nil
	p.Receive(0, 0, MatchRequest{Iteration: 1, BuyOrder: foreignBuy, SellOrder: foreignSell})
	if err := kernel.Run(); err != nil {
		t.Fatal(err)
	}
	if len(coord.msgs) != 0 {
		t.Fatalf("participant answered a reveal for orders it does not own: %+v", coord.msgs)
	}
}

func TestExecuteDisclosesIdentity(t *testing.T) {
	p, coord, kernel := newTestParticipant(t, 1, "seed-g")
	batch := requestBatch(t, p, coord, kernel, 1)

	coord.msgs = nil
	p.Receive(0, 0, ExecuteRequest{
		Iteration: 1,
		BuyOrder:  batch[0],
		SellOrder: Order{Side: Sell, Price: 99, Owner: 2, EncIdentity: "junk"},
		BuyPrice:  batch[0].Price,
		SellPrice: 99,
	})
	if err := kernel.Run(); err != nil {
		t.Fatal(err)
	}

	if len(coord.msgs) != 1 {
		t.Fatalf("got %d replies, want 1", len(coord.msgs))
	}
	reply := coord.msgs[0].(ExecuteReply)
	if reply.Identity != p.Name() || reply.Side != Buy || reply.Price != batch[0].Price {
		t.Errorf("unexpected execute reply %+v", reply)
	}
	if p.ExecutedOrders() != 1 {
		t.Errorf("executed counter = %d, want 1", p.ExecutedOrders())
	}
}
