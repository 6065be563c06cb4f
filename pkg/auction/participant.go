package auction

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/hyunjk/darkpool/pkg/crypto"
	"github.com/hyunjk/darkpool/pkg/sim"
	"github.com/hyunjk/darkpool/pkg/util"
)

// ParticipantConfig controls batch shape and price bands.
type ParticipantConfig struct {
	BatchSize int
	MinReal   int
	MaxReal   int

	BuyPriceLow   int64
	BuyPriceHigh  int64
	SellPriceLow  int64
	SellPriceHigh int64
}

// Participant submits a batch of genuine and decoy orders each iteration
// and answers reveal/execute requests for orders it authored. Its
// symmetric key is regenerated per iteration and never leaves the struct.
type Participant struct {
	id          sim.AgentID
	index       int // 1-based position in the population; decides side
	name        string
	kernel      *sim.Kernel
	coordinator sim.AgentID
	cfg         ParticipantConfig
	rng         *rand.Rand
	clock       util.Clock
	log         *zap.SugaredLogger

	key           []byte
	keySeed       []byte // non-nil: derive keys deterministically
	sentIteration int
	executed      int
	timings       Timings
}

func NewParticipant(id sim.AgentID, index int, kernel *sim.Kernel, coordinator sim.AgentID,
	cfg ParticipantConfig, rng *rand.Rand, clock util.Clock, log *zap.SugaredLogger) *Participant {
	return &Participant{
		id:          id,
		index:       index,
		name:        fmt.Sprintf("DarkPool Client Agent %d", index),
		kernel:      kernel,
		coordinator: coordinator,
		cfg:         cfg,
		rng:         rng,
		clock:       clock,
		log:         log,
	}
}

// SetKeySeed makes per-iteration keys deterministic, for seeded runs.
func (p *Participant) SetKeySeed(seed []byte) { p.keySeed = seed }

func (p *Participant) ID() sim.AgentID { return p.id }
func (p *Participant) Name() string    { return p.name }

// ExecutedOrders reports how many of this participant's orders cleared.
func (p *Participant) ExecutedOrders() int { return p.executed }

// ElapsedTimings returns the per-phase wall-clock accumulators.
func (p *Participant) ElapsedTimings() Timings { return p.timings }

func (p *Participant) WakeUp(time.Duration) {} // purely reactive

func (p *Participant) Receive(now time.Duration, from sim.AgentID, msg any) {
	switch m := msg.(type) {
	case SendOrders:
		p.onSendOrders(m)
	case MatchRequest:
		p.onMatchRequest(m)
	case ExecuteRequest:
		p.onExecuteRequest(m)
	default:
		p.log.Debugw("participant_unknown_message", "client", p.index, "msg", fmt.Sprintf("%T", msg))
	}
}

func (p *Participant) onSendOrders(m SendOrders) {
	if m.Iteration <= p.sentIteration {
		return // already answered this iteration's poll
	}
	start := p.clock.Now()

	if err := p.rotateKey(m.Iteration); err != nil {
		p.log.Errorw("participant_key_generation_failed", "client", p.index, "err", err)
		return
	}

	batch, err := p.buildBatch(m.Total)
	if err != nil {
		p.log.Errorw("participant_batch_failed", "client", p.index, "err", err)
		return
	}

	p.sentIteration = m.Iteration
	p.kernel.Send(p.id, p.coordinator, OrderBatch{Iteration: m.Iteration, Orders: batch})
	p.timings.Place += p.clock.Now().Sub(start)
}

// buildBatch produces BatchSize orders at one (side, price), a uniformly
// chosen 5..7 of them genuine and the rest decoys. Identity and
// authenticity ciphertexts are produced once and shared across the batch,
// so all of an iteration's decoys carry an identical authenticity blob.
func (p *Participant) buildBatch(total int) ([]Order, error) {
	side := Sell
	price := p.randPrice(p.cfg.SellPriceLow, p.cfg.SellPriceHigh)
	if p.index <= total/2 {
		side = Buy
		price = p.randPrice(p.cfg.BuyPriceLow, p.cfg.BuyPriceHigh)
	}

	numReal := p.cfg.MinReal + p.rng.Intn(p.cfg.MaxReal-p.cfg.MinReal+1)

	encName, err := crypto.Encrypt(p.key, p.name)
	if err != nil {
		return nil, fmt.Errorf("encrypt identity: %w", err)
	}
	encTrue, err := crypto.Encrypt(p.key, "true")
	if err != nil {
		return nil, fmt.Errorf("encrypt authenticity: %w", err)
	}
	encFalse, err := crypto.Encrypt(p.key, "false")
	if err != nil {
		return nil, fmt.Errorf("encrypt authenticity: %w", err)
	}

	orders := make([]Order, 0, p.cfg.BatchSize)
	for i := 0; i < p.cfg.BatchSize; i++ {
		auth := encTrue
		if i >= numReal {
			auth = encFalse
		}
		orders = append(orders, Order{
			Side:            side,
			Price:           price,
			Owner:           p.id,
			EncIdentity:     encName,
			EncAuthenticity: auth,
		})
	}
	return orders, nil
}

func (p *Participant) rotateKey(iteration int) error {
	if p.keySeed != nil {
		p.key = crypto.DeriveKey(p.keySeed, uint64(iteration))
		return nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	p.key = key
	return nil
}

// ownsOrder checks authorship by decrypting the identity field with this
// participant's own key and comparing to its name. A foreign ciphertext
// is expected to fail padding or UTF-8 validation; that failure mode is
// probabilistic, not guaranteed, which is why requests are also addressed
// only to the candidate owners.
func (p *Participant) ownsOrder(o Order) bool {
	name, ok := crypto.Decrypt(p.key, o.EncIdentity)
	return ok && name == p.name
}

func (p *Participant) onMatchRequest(m MatchRequest) {
	start := p.clock.Now()
	defer func() { p.timings.Match += p.clock.Now().Sub(start) }()

	reveal := func(o Order, side Side) {
		status, _ := crypto.Decrypt(p.key, o.EncAuthenticity)
		p.kernel.Send(p.id, p.coordinator, MatchReply{
			Iteration: m.Iteration,
			Order:     o,
			Side:      side,
			Genuine:   status == "true",
		})
	}

	if p.ownsOrder(m.BuyOrder) {
		reveal(m.BuyOrder, Buy)
	} else if p.ownsOrder(m.SellOrder) {
		reveal(m.SellOrder, Sell)
	}
}

func (p *Participant) onExecuteRequest(m ExecuteRequest) {
	start := p.clock.Now()
	defer func() { p.timings.Execute += p.clock.Now().Sub(start) }()

	disclose := func(side Side, price int64) {
		p.executed++
		p.kernel.Send(p.id, p.coordinator, ExecuteReply{
			Iteration: m.Iteration,
			Side:      side,
			Identity:  p.name,
			Price:     price,
		})
	}

	if p.ownsOrder(m.BuyOrder) {
		disclose(Buy, m.BuyPrice)
	} else if p.ownsOrder(m.SellOrder) {
		disclose(Sell, m.SellPrice)
	}
}

func (p *Participant) randPrice(low, high int64) int64 {
	if high <= low {
		return low
	}
	return low + p.rng.Int63n(high-low+1)
}
