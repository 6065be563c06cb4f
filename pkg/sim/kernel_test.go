package sim

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type traceEntry struct {
	at   time.Duration
	from AgentID
	msg  any
}

type recorder struct {
	id     AgentID
	wakes  []time.Duration
	trace  []traceEntry
	onWake func(now time.Duration)
}

func (r *recorder) ID() AgentID { return r.id }
func (r *recorder) WakeUp(now time.Duration) {
	r.wakes = append(r.wakes, now)
	if r.onWake != nil {
		r.onWake(now)
	}
}
func (r *recorder) Receive(now time.Duration, from AgentID, msg any) {
	r.trace = append(r.trace, traceEntry{at: now, from: from, msg: msg})
}

func newTestKernel(jitter float64) *Kernel {
	rng := rand.New(rand.NewSource(42))
	lm := NewLatencyModel(time.Millisecond, 10*time.Millisecond, jitter, rng)
	return NewKernel(lm, 0, nil)
}

func TestWakeupOrdering(t *testing.T) {
	k := newTestKernel(0)
	a := &recorder{id: 1}
	require.NoError(t, k.Register(a))

	k.ScheduleWakeup(1, 30*time.Millisecond)
	k.ScheduleWakeup(1, 10*time.Millisecond)
	k.ScheduleWakeup(1, 20*time.Millisecond)

	require.NoError(t, k.Run())
	require.Equal(t, []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond,
	}, a.wakes)
	require.Equal(t, 30*time.Millisecond, k.Now())
}

func TestPerLinkFIFO(t *testing.T) {
	k := newTestKernel(0.9) // heavy jitter to provoke reordering
	recv := &recorder{id: 2}
	sender := &recorder{id: 1}
	sender.onWake = func(now time.Duration) {
		for i := 0; i < 50; i++ {
			k.Send(1, 2, i)
		}
	}
	require.NoError(t, k.Register(sender))
	require.NoError(t, k.Register(recv))

	k.ScheduleWakeup(1, 0)
	require.NoError(t, k.Run())

	require.Len(t, recv.trace, 50)
	for i, e := range recv.trace {
		require.Equal(t, i, e.msg, "messages on one link must arrive in send order")
	}
}

func TestDeliveryNotBeforeLatency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lm := NewLatencyModel(5*time.Millisecond, 5*time.Millisecond, 0, rng)
	k := NewKernel(lm, 0, nil)

	recv := &recorder{id: 2}
	sender := &recorder{id: 1}
	sender.onWake = func(now time.Duration) { k.Send(1, 2, "hi") }
	require.NoError(t, k.Register(sender))
	require.NoError(t, k.Register(recv))

	k.ScheduleWakeup(1, time.Millisecond)
	require.NoError(t, k.Run())

	require.Len(t, recv.trace, 1)
	require.Equal(t, 6*time.Millisecond, recv.trace[0].at)
}

func TestStopTime(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	lm := NewLatencyModel(time.Millisecond, time.Millisecond, 0, rng)
	k := NewKernel(lm, 50*time.Millisecond, nil)

	a := &recorder{id: 1}
	require.NoError(t, k.Register(a))
	k.ScheduleWakeup(1, 40*time.Millisecond)
	k.ScheduleWakeup(1, 60*time.Millisecond) // past stop time, never fires

	require.NoError(t, k.Run())
	require.Equal(t, []time.Duration{40 * time.Millisecond}, a.wakes)
}

func TestDuplicateRegister(t *testing.T) {
	k := newTestKernel(0)
	require.NoError(t, k.Register(&recorder{id: 1}))
	require.Error(t, k.Register(&recorder{id: 1}))
}
