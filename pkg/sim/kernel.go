package sim

import (
	"container/heap"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type AgentID int

// Agent is anything the kernel can wake or deliver messages to. Agents
// keep a reference to the kernel to send messages and re-arm wakeups;
// they must only do so from inside WakeUp/Receive (the kernel is
// single-threaded).
type Agent interface {
	ID() AgentID
	WakeUp(now time.Duration)
	Receive(now time.Duration, from AgentID, msg any)
}

type eventKind uint8

const (
	evWakeup eventKind = iota
	evDeliver
)

type event struct {
	at   time.Duration
	seq  uint64 // insertion order, ties broken FIFO
	kind eventKind
	to   AgentID
	from AgentID
	msg  any
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(*event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

// Kernel is a single-threaded discrete-event scheduler with virtual time.
// Delivery honors per-link FIFO: two messages on the same (from, to) link
// never reorder, regardless of sampled jitter.
type Kernel struct {
	agents  map[AgentID]Agent
	queue   eventQueue
	clock   time.Duration
	seq     uint64
	latency *LatencyModel
	lastOut map[[2]AgentID]time.Duration
	stopAt  time.Duration
	log     *zap.SugaredLogger
}

func NewKernel(latency *LatencyModel, stopAt time.Duration, log *zap.SugaredLogger) *Kernel {
	return &Kernel{
		agents:  make(map[AgentID]Agent),
		latency: latency,
		lastOut: make(map[[2]AgentID]time.Duration),
		stopAt:  stopAt,
		log:     log,
	}
}

func (k *Kernel) Register(a Agent) error {
	if _, dup := k.agents[a.ID()]; dup {
		return fmt.Errorf("agent %d already registered", a.ID())
	}
	k.agents[a.ID()] = a
	return nil
}

// Now returns the current virtual time.
func (k *Kernel) Now() time.Duration { return k.clock }

// ScheduleWakeup arms a wakeup for the agent at the given virtual time.
// Times in the past fire at the current time.
func (k *Kernel) ScheduleWakeup(id AgentID, at time.Duration) {
	if at < k.clock {
		at = k.clock
	}
	k.push(&event{at: at, kind: evWakeup, to: id})
}

// Send queues msg for delivery to the recipient after the simulated link
// latency. Delivery never precedes an earlier send on the same link.
func (k *Kernel) Send(from, to AgentID, msg any) {
	at := k.clock + k.latency.Delay(from, to)
	link := [2]AgentID{from, to}
	if last, ok := k.lastOut[link]; ok && at < last {
		at = last
	}
	k.lastOut[link] = at
	k.push(&event{at: at, kind: evDeliver, to: to, from: from, msg: msg})
}

func (k *Kernel) push(ev *event) {
	k.seq++
	ev.seq = k.seq
	heap.Push(&k.queue, ev)
}

// Run drains the event queue, advancing virtual time. It returns when no
// events remain or the stop time is reached.
func (k *Kernel) Run() error {
	for k.queue.Len() > 0 {
		ev := heap.Pop(&k.queue).(*event)
		if k.stopAt > 0 && ev.at > k.stopAt {
			if k.log != nil {
				k.log.Infow("kernel_stop_time_reached", "now", k.clock, "pending", k.queue.Len()+1)
			}
			return nil
		}
		k.clock = ev.at

		agent, ok := k.agents[ev.to]
		if !ok {
			return fmt.Errorf("event for unknown agent %d", ev.to)
		}
		switch ev.kind {
		case evWakeup:
			agent.WakeUp(k.clock)
		case evDeliver:
			agent.Receive(k.clock, ev.from, ev.msg)
		}
	}
	return nil
}
