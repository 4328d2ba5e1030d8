package throttle

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

const (
	Unlimited     = int64(-1)
	DefaultWindow = time.Second
)

// QuotaFunc returns the allowed events per second. A negative value disables
// throttling, zero rejects everything.
type QuotaFunc func() int64

func FixedQuota(eventsPerSecond int64) QuotaFunc {
	return func() int64 {
		return eventsPerSecond
	}
}

// DynamicQuota reads the quota from an atomic counter so operators can retune
// a running throttler.
func DynamicQuota(v *atomic.Int64) QuotaFunc {
	return v.Load
}

type windowState struct {
	id int64
	// used is charged in event-nanoseconds: one event costs kEventCost
	used int64
}

const kEventCost = int64(time.Second)

// EventThrottler admits events in fixed time windows. A window refills
// quota * window / 1s events; usage above the refill is carried into the
// following windows, so fractional budgets and oversized batches still
// converge to the quota. State is a single immutable (window id, used) pair
// swapped with CAS, so concurrent admissions see a consistent window.
type EventThrottler struct {
	name   string
	clock  clock.Clock
	window time.Duration
	quota  atomic.Value
	state  atomic.Pointer[windowState]
	// admit a batch whenever the window still has headroom
	checkBeforeRecording bool
}

type throttlerOpts func(t *EventThrottler)

func WithWindow(window time.Duration) throttlerOpts {
	return func(t *EventThrottler) {
		if window > 0 {
			t.window = window
		}
	}
}

func WithClock(c clock.Clock) throttlerOpts {
	return func(t *EventThrottler) {
		t.clock = c
	}
}

// WithCheckQuotaBeforeRecording admits a whole batch as long as the current
// window isn't used up, and charges the excess to later windows. Batches
// larger than one window's budget are admitted this way instead of never.
func WithCheckQuotaBeforeRecording() throttlerOpts {
	return func(t *EventThrottler) {
		t.checkBeforeRecording = true
	}
}

func NewEventThrottler(name string, quota QuotaFunc, opts ...throttlerOpts) *EventThrottler {
	ans := &EventThrottler{
		name:   name,
		clock:  clock.RealClock{},
		window: DefaultWindow,
	}
	for _, opt := range opts {
		opt(ans)
	}
	ans.SetQuota(quota)
	ans.state.Store(&windowState{id: ans.windowId(ans.clock.Now()), used: 0})
	return ans
}

func (t *EventThrottler) Name() string {
	return t.name
}

// SetQuota takes effect on the next admission check.
func (t *EventThrottler) SetQuota(quota QuotaFunc) {
	if quota == nil {
		quota = FixedQuota(Unlimited)
	}
	t.quota.Store(quota)
}

func (t *EventThrottler) windowId(now time.Time) int64 {
	return now.UnixNano() / int64(t.window)
}

// budget returns the refill of one window and the most a window may hold, both
// in event-nanoseconds. A positive quota always fits at least one event.
func (t *EventThrottler) budget() (refill int64, capacity int64, unlimited bool) {
	q := t.quota.Load().(QuotaFunc)()
	if q < 0 || q > math.MaxInt64/int64(t.window) {
		return 0, 0, true
	}
	refill = q * int64(t.window)
	capacity = refill
	if q > 0 && capacity < kEventCost {
		capacity = kEventCost
	}
	return refill, capacity, false
}

func cost(n int64) int64 {
	if n > math.MaxInt64/kEventCost {
		return math.MaxInt64
	}
	return n * kEventCost
}

// usedAt returns the usage of window current after repaying carried usage.
func usedAt(st *windowState, current, refill int64) (int64, int64) {
	if current <= st.id {
		// clock went backwards, keep charging the newest window
		return st.id, st.used
	}
	elapsed := current - st.id
	if refill > 0 && elapsed <= st.used/refill {
		return current, st.used - elapsed*refill
	}
	if refill == 0 {
		return current, st.used
	}
	return current, 0
}

func (t *EventThrottler) admissible(used, n, capacity int64) bool {
	if t.checkBeforeRecording {
		return used < capacity || (n == 0 && used <= capacity)
	}
	c := cost(n)
	return c <= capacity && used <= capacity-c
}

// TryAcquire admits all n events or none of them, and never blocks.
func (t *EventThrottler) TryAcquire(n int64) bool {
	refill, capacity, unlimited := t.budget()
	if unlimited {
		return true
	}
	for {
		old := t.state.Load()
		current, used := usedAt(old, t.windowId(t.clock.Now()), refill)
		if !t.admissible(used, n, capacity) {
			return false
		}
		next := used + cost(n)
		if next < used {
			next = math.MaxInt64
		}
		if t.state.CompareAndSwap(old, &windowState{id: current, used: next}) {
			return true
		}
	}
}

// Acquire blocks until n events are admitted or ctx is done. Without
// WithCheckQuotaBeforeRecording, n larger than a whole window budget can never
// be admitted and fails immediately.
func (t *EventThrottler) Acquire(ctx context.Context, n int64) bool {
	for {
		if t.TryAcquire(n) {
			return true
		}
		_, capacity, _ := t.budget()
		if !t.checkBeforeRecording && capacity > 0 && cost(n) > capacity {
			return false
		}
		now := t.clock.Now()
		next := time.Unix(0, (t.windowId(now)+1)*int64(t.window))
		select {
		case <-ctx.Done():
			return false
		case <-t.clock.After(next.Sub(now)):
		}
	}
}

// Remaining reports the events the current window can still admit, Unlimited
// if not throttled.
func (t *EventThrottler) Remaining() int64 {
	refill, capacity, unlimited := t.budget()
	if unlimited {
		return Unlimited
	}
	_, used := usedAt(t.state.Load(), t.windowId(t.clock.Now()), refill)
	if used >= capacity {
		return 0
	}
	return (capacity - used) / kEventCost
}
