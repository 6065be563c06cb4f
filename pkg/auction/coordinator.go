package auction

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyunjk/darkpool/pkg/sim"
	"github.com/hyunjk/darkpool/pkg/util"
)

// Phase is the coordinator's round state.
type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseMatching
	PhaseReveal
	PhaseExecute
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseMatching:
		return "matching"
	case PhaseReveal:
		return "reveal"
	case PhaseExecute:
		return "execute"
	}
	return "unknown"
}

// TriState is a revealed-authenticity value: unknown until the owner
// replies, then genuine or fake.
type TriState uint8

const (
	Unknown TriState = iota
	Genuine
	Fake
)

type origin uint8

const (
	fromHead origin = iota
	fromTail
)

// roundState is the coordinator's per-candidate scratch. It is cleared
// whenever a match attempt concludes so the next pair starts clean.
type roundState struct {
	buyLevel   LevelHandle
	sellLevel  LevelHandle
	buyOrigin  origin
	sellOrigin origin

	buyOrder  *Order
	sellOrder *Order

	buyStatus  TriState
	sellStatus TriState

	buyIdentity  *string
	sellIdentity *string

	// virtual time the current phase was entered, for the stall timeout
	phaseStart time.Duration
}

func newRoundState() roundState {
	return roundState{buyLevel: NilLevel, sellLevel: NilLevel}
}

type CoordinatorConfig struct {
	Iterations     int
	PollInterval   time.Duration
	RevealInterval time.Duration
	PhaseTimeout   time.Duration // zero: wait forever, as the base design does
}

// Coordinator orchestrates the iteration: collects batches, builds both
// books, pairs price-compatible candidates, asks the owners to reveal,
// purges fakes and executes genuine matches until a book is exhausted.
// Single-writer: all protocol state is mutated only from WakeUp/Receive.
type Coordinator struct {
	id           sim.AgentID
	kernel       *sim.Kernel
	cfg          CoordinatorConfig
	participants []sim.AgentID
	rng          *rand.Rand
	clock        util.Clock
	log          *zap.SugaredLogger

	phase     Phase
	iteration int
	state     roundState

	reported   map[sim.AgentID]bool
	recvOrders []Order
	buyBook    *Book
	sellBook   *Book

	totalOrders    int // current iteration
	allOrders      int // summed over iterations
	executedOrders int
	stalled        int
	ledger         []TradeRecord
	observers      []TradeObserver
	timings        Timings
	done           bool

	placeWall  time.Time
	matchWall  time.Time
	revealWall time.Time
	execWall   time.Time
}

func NewCoordinator(id sim.AgentID, kernel *sim.Kernel, participants []sim.AgentID,
	cfg CoordinatorConfig, rng *rand.Rand, clock util.Clock, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		id:           id,
		kernel:       kernel,
		cfg:          cfg,
		participants: participants,
		rng:          rng,
		clock:        clock,
		log:          log,
		phase:        PhaseInit,
		iteration:    1,
		state:        newRoundState(),
		reported:     make(map[sim.AgentID]bool),
	}
}

func (c *Coordinator) ID() sim.AgentID { return c.id }

// Start arms the first wakeup. The protocol then drives itself.
func (c *Coordinator) Start() {
	c.placeWall = c.clock.Now()
	c.kernel.ScheduleWakeup(c.id, c.kernel.Now())
}

// Ledger returns the executed trades recorded so far.
func (c *Coordinator) Ledger() []TradeRecord { return c.ledger }

// Observe registers a callback invoked as each trade is recorded.
func (c *Coordinator) Observe(fn TradeObserver) { c.observers = append(c.observers, fn) }

// ElapsedTimings returns per-phase wall-clock accumulators.
func (c *Coordinator) ElapsedTimings() Timings { return c.timings }

func (c *Coordinator) ExecutedOrders() int    { return c.executedOrders }
func (c *Coordinator) TotalOrders() int       { return c.allOrders }
func (c *Coordinator) StalledIterations() int { return c.stalled }
func (c *Coordinator) Done() bool             { return c.done }

func (c *Coordinator) WakeUp(now time.Duration) {
	if c.done {
		return
	}
	switch c.phase {
	case PhaseInit:
		c.stepInit(now)
	case PhaseMatching:
		c.stepMatching(now)
	case PhaseReveal:
		c.stepReveal(now)
	case PhaseExecute:
		c.stepExecute(now)
	}
}

func (c *Coordinator) Receive(now time.Duration, from sim.AgentID, msg any) {
	if c.done {
		return
	}
	switch m := msg.(type) {
	case OrderBatch:
		c.onOrderBatch(now, from, m)
	case MatchReply:
		c.onMatchReply(m)
	case ExecuteReply:
		c.onExecuteReply(m)
	default:
		c.log.Debugw("coordinator_unknown_message", "from", from, "msg", fmt.Sprintf("%T", msg))
	}
}

func (c *Coordinator) onOrderBatch(now time.Duration, from sim.AgentID, m OrderBatch) {
	if m.Iteration != c.iteration || c.phase != PhaseInit || c.reported[from] {
		return
	}
	c.reported[from] = true
	c.recvOrders = append(c.recvOrders, m.Orders...)
	c.log.Debugw("orders_received", "iteration", c.iteration, "from", from,
		"count", len(m.Orders), "reported", len(c.reported))
	if len(c.reported) == len(c.participants) {
		c.kernel.ScheduleWakeup(c.id, now+c.cfg.PollInterval)
	}
}

func (c *Coordinator) onMatchReply(m MatchReply) {
	if m.Iteration != c.iteration || c.phase != PhaseReveal {
		return
	}
	status := Fake
	if m.Genuine {
		status = Genuine
	}
	if m.Side == Buy {
		c.state.buyStatus = status
	} else {
		c.state.sellStatus = status
	}
}

func (c *Coordinator) onExecuteReply(m ExecuteReply) {
	if m.Iteration != c.iteration || c.phase != PhaseExecute {
		return
	}
	name := m.Identity
	if m.Side == Buy {
		c.state.buyIdentity = &name
	} else {
		c.state.sellIdentity = &name
	}
}

// stepInit re-polls until every participant has reported, then builds the
// books and advances to matching. Transition is gated on counting distinct
// senders, never on arrival order.
func (c *Coordinator) stepInit(now time.Duration) {
	if len(c.reported) < len(c.participants) {
		if c.timedOut(now) {
			c.endIteration(now, true)
			return
		}
		for _, p := range c.participants {
			c.kernel.Send(c.id, p, SendOrders{Iteration: c.iteration, Total: len(c.participants)})
		}
		c.kernel.ScheduleWakeup(c.id, now+c.cfg.PollInterval)
		return
	}

	c.timings.Place += c.clock.Now().Sub(c.placeWall)
	c.totalOrders = len(c.recvOrders)
	c.allOrders += c.totalOrders
	c.buyBook, c.sellBook = BuildBooks(c.recvOrders)

	c.log.Infow("books_built", "iteration", c.iteration,
		"orders", c.totalOrders, "buy_levels", c.buyBook.Prices(), "sell_levels", c.sellBook.Prices())

	c.phase = PhaseMatching
	c.state.phaseStart = now
	c.matchWall = c.clock.Now()
	c.kernel.ScheduleWakeup(c.id, now+c.cfg.PollInterval)
}

// stepMatching anchors one side at its best price and advances the other
// until the pair crosses or a book is exhausted. The anchor side is
// re-drawn each attempt, as in the base design.
func (c *Coordinator) stepMatching(now time.Duration) {
	if c.timedOut(now) {
		c.endIteration(now, true)
		return
	}

	anchor := Buy
	if c.rng.Intn(2) == 1 {
		anchor = Sell
	}

	// Fresh attempt: both candidate orders were cleared, re-anchor the
	// pointers. A half-cleared attempt (single-side purge) keeps them.
	if c.state.buyOrder == nil && c.state.sellOrder == nil {
		if anchor == Buy {
			c.state.buyLevel, c.state.buyOrigin = c.buyBook.Head(), fromHead
			c.state.sellLevel, c.state.sellOrigin = c.sellBook.Tail(), fromTail
		} else {
			c.state.buyLevel, c.state.buyOrigin = c.buyBook.Tail(), fromTail
			c.state.sellLevel, c.state.sellOrigin = c.sellBook.Head(), fromHead
		}
	}

	c.refreshCandidate(Buy)
	c.refreshCandidate(Sell)

	for c.state.buyLevel != NilLevel && c.state.sellLevel != NilLevel {
		buyOrder, okB := c.buyBook.Front(c.state.buyLevel)
		sellOrder, okS := c.sellBook.Front(c.state.sellLevel)
		if !okB || !okS {
			break // defensive; refresh removed empties already
		}
		c.state.buyOrder, c.state.sellOrder = &buyOrder, &sellOrder

		buyPrice := c.buyBook.Price(c.state.buyLevel)
		sellPrice := c.sellBook.Price(c.state.sellLevel)

		if buyPrice >= sellPrice {
			c.log.Debugw("candidate_pair", "iteration", c.iteration,
				"buy_price", buyPrice, "sell_price", sellPrice,
				"buy_owner", buyOrder.Owner, "sell_owner", sellOrder.Owner)
			req := MatchRequest{Iteration: c.iteration, BuyOrder: buyOrder, SellOrder: sellOrder}
			c.kernel.Send(c.id, buyOrder.Owner, req)
			c.kernel.Send(c.id, sellOrder.Owner, req)
			c.phase = PhaseReveal
			c.state.phaseStart = now
			c.revealWall = c.clock.Now()
			break
		}

		// Non-crossing: evict the advanced side's level and step it
		// toward better prices. The advanced side is the one walking
		// from the tail; a half-cleared attempt keeps its origins, so
		// the freshly drawn anchor must not pick the side to evict.
		if c.state.sellOrigin == fromTail {
			next := c.sellBook.Prev(c.state.sellLevel)
			c.sellBook.RemoveLevel(c.state.sellLevel)
			c.state.sellLevel = next
		} else {
			next := c.buyBook.Prev(c.state.buyLevel)
			c.buyBook.RemoveLevel(c.state.buyLevel)
			c.state.buyLevel = next
		}
	}

	if c.buyBook.Empty() || c.sellBook.Empty() {
		c.endIteration(now, false)
		return
	}
	c.kernel.ScheduleWakeup(c.id, now+c.cfg.PollInterval)
}

// refreshCandidate drops a candidate level whose queue has emptied and
// re-points at the side's current best (or worst, per the origin).
func (c *Coordinator) refreshCandidate(side Side) {
	if side == Buy {
		if c.state.buyLevel != NilLevel && c.buyBook.LevelLen(c.state.buyLevel) == 0 {
			c.buyBook.RemoveLevel(c.state.buyLevel)
			c.state.buyLevel = c.pointOf(c.buyBook, c.state.buyOrigin)
		}
		return
	}
	if c.state.sellLevel != NilLevel && c.sellBook.LevelLen(c.state.sellLevel) == 0 {
		c.sellBook.RemoveLevel(c.state.sellLevel)
		c.state.sellLevel = c.pointOf(c.sellBook, c.state.sellOrigin)
	}
}

func (c *Coordinator) pointOf(b *Book, o origin) LevelHandle {
	if o == fromHead {
		return b.Head()
	}
	return b.Tail()
}

// stepReveal waits for both authenticity replies, then either promotes the
// pair to execution or purges the liar's decoys and returns to matching.
// Purges are owner-scoped and side-scoped.
func (c *Coordinator) stepReveal(now time.Duration) {
	bs, ss := c.state.buyStatus, c.state.sellStatus
	if bs == Unknown || ss == Unknown {
		if c.timedOut(now) {
			c.endIteration(now, true)
			return
		}
		c.kernel.ScheduleWakeup(c.id, now+c.cfg.RevealInterval)
		return
	}

	switch {
	case bs == Genuine && ss == Genuine:
		c.executedOrders += 2
		req := ExecuteRequest{
			Iteration: c.iteration,
			BuyOrder:  *c.state.buyOrder,
			SellOrder: *c.state.sellOrder,
			BuyPrice:  c.buyBook.Price(c.state.buyLevel),
			SellPrice: c.sellBook.Price(c.state.sellLevel),
		}
		c.kernel.Send(c.id, c.state.buyOrder.Owner, req)
		c.kernel.Send(c.id, c.state.sellOrder.Owner, req)
		c.phase = PhaseExecute
		c.state.phaseStart = now
		c.execWall = c.clock.Now()

	case bs == Genuine && ss == Fake:
		c.purgeFakes(Sell)
		c.state.sellStatus = Unknown
		c.state.sellOrder = nil
		c.phase = PhaseMatching

	case bs == Fake && ss == Genuine:
		c.purgeFakes(Buy)
		c.state.buyStatus = Unknown
		c.state.buyOrder = nil
		c.phase = PhaseMatching

	default: // both fake
		c.purgeFakes(Buy)
		c.purgeFakes(Sell)
		c.state.buyStatus, c.state.sellStatus = Unknown, Unknown
		c.state.buyOrder, c.state.sellOrder = nil, nil
		c.phase = PhaseMatching
	}

	if c.phase == PhaseMatching {
		c.state.phaseStart = now
	}
	c.timings.Reveal += c.clock.Now().Sub(c.revealWall)
	c.kernel.ScheduleWakeup(c.id, now+c.cfg.RevealInterval)
}

// purgeFakes removes every decoy of the revealed owner on that side. The
// owner's decoys share one authenticity ciphertext, so equality on the
// blob selects exactly the fakes. The candidate level handle is kept
// alive even if emptied; the matching refresh reaps it.
func (c *Coordinator) purgeFakes(side Side) {
	if side == Buy {
		o := c.state.buyOrder
		n := c.buyBook.PurgeOwner(o.Owner, o.EncAuthenticity, c.state.buyLevel)
		c.log.Debugw("fakes_purged", "iteration", c.iteration, "side", "buy", "owner", o.Owner, "removed", n)
		return
	}
	o := c.state.sellOrder
	n := c.sellBook.PurgeOwner(o.Owner, o.EncAuthenticity, c.state.sellLevel)
	c.log.Debugw("fakes_purged", "iteration", c.iteration, "side", "sell", "owner", o.Owner, "removed", n)
}

// stepExecute waits for both identity disclosures, then records the trade
// at the two clearing prices and pops the executed orders.
func (c *Coordinator) stepExecute(now time.Duration) {
	if c.state.buyIdentity == nil || c.state.sellIdentity == nil {
		if c.timedOut(now) {
			c.endIteration(now, true)
			return
		}
		c.kernel.ScheduleWakeup(c.id, now+c.cfg.RevealInterval)
		return
	}

	buyPrice := c.buyBook.Price(c.state.buyLevel)
	sellPrice := c.sellBook.Price(c.state.sellLevel)

	trade := TradeRecord{
		ID:           uuid.NewString(),
		Iteration:    c.iteration,
		BuyIdentity:  *c.state.buyIdentity,
		BuyPrice:     buyPrice,
		SellIdentity: *c.state.sellIdentity,
		SellPrice:    sellPrice,
	}
	c.ledger = append(c.ledger, trade)
	c.log.Infow("trade_executed", "iteration", c.iteration,
		"buyer", trade.BuyIdentity, "buy_price", buyPrice,
		"seller", trade.SellIdentity, "sell_price", sellPrice)
	for _, fn := range c.observers {
		fn(trade)
	}

	c.buyBook.PopFront(c.state.buyLevel)
	c.sellBook.PopFront(c.state.sellLevel)

	// A level is removed the instant its queue empties.
	if c.buyBook.LevelLen(c.state.buyLevel) == 0 {
		c.buyBook.RemoveLevel(c.state.buyLevel)
		c.state.buyLevel = c.pointOf(c.buyBook, c.state.buyOrigin)
	}
	if c.sellBook.LevelLen(c.state.sellLevel) == 0 {
		c.sellBook.RemoveLevel(c.state.sellLevel)
		c.state.sellLevel = c.pointOf(c.sellBook, c.state.sellOrigin)
	}

	c.state.buyOrder, c.state.sellOrder = nil, nil
	c.state.buyStatus, c.state.sellStatus = Unknown, Unknown
	c.state.buyIdentity, c.state.sellIdentity = nil, nil
	c.phase = PhaseMatching
	c.state.phaseStart = now

	c.timings.Execute += c.clock.Now().Sub(c.execWall)
	c.kernel.ScheduleWakeup(c.id, now+c.cfg.RevealInterval)
}

func (c *Coordinator) timedOut(now time.Duration) bool {
	return c.cfg.PhaseTimeout > 0 && now-c.state.phaseStart > c.cfg.PhaseTimeout
}

// endIteration closes out the current iteration, either because a book is
// exhausted or because a phase timed out (stalled).
func (c *Coordinator) endIteration(now time.Duration, stalledOut bool) {
	if !c.matchWall.IsZero() {
		c.timings.Match += c.clock.Now().Sub(c.matchWall)
		c.matchWall = time.Time{}
	}
	if stalledOut {
		c.stalled++
		c.log.Warnw("iteration_stalled", "iteration", c.iteration, "phase", c.phase.String())
	}
	c.log.Infow("iteration_finished", "iteration", c.iteration,
		"orders_received", c.totalOrders, "orders_executed", c.executedOrders, "stalled", stalledOut)

	c.iteration++
	if c.iteration > c.cfg.Iterations {
		c.done = true
		c.log.Infow("protocol_finished", "iterations", c.cfg.Iterations,
			"trades", len(c.ledger), "stalled_iterations", c.stalled)
		return
	}

	c.phase = PhaseInit
	c.state = newRoundState()
	c.state.phaseStart = now
	c.reported = make(map[sim.AgentID]bool)
	c.recvOrders = nil
	c.buyBook, c.sellBook = nil, nil
	c.totalOrders = 0
	c.placeWall = c.clock.Now()
	c.kernel.ScheduleWakeup(c.id, now+c.cfg.PollInterval)
}
