package throttle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/assert"
	testingclock "k8s.io/utils/clock/testing"
)

func TestEventThrottlerWindow(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	th := NewEventThrottler("remote", FixedQuota(10), WithClock(fc), WithWindow(time.Second))

	assert.Assert(t, th.TryAcquire(6))
	assert.Equal(t, th.Remaining(), int64(4))
	// no partial admission
	assert.Assert(t, !th.TryAcquire(5))
	assert.Equal(t, th.Remaining(), int64(4))
	assert.Assert(t, th.TryAcquire(4))
	assert.Assert(t, !th.TryAcquire(1))
	assert.Assert(t, th.TryAcquire(0))

	fc.Step(time.Second)
	assert.Equal(t, th.Remaining(), int64(10))
	assert.Assert(t, th.TryAcquire(10))
}

func TestEventThrottlerBudgetScalesWithWindow(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	th := NewEventThrottler("w", FixedQuota(10), WithClock(fc), WithWindow(500*time.Millisecond))
	assert.Assert(t, th.TryAcquire(5))
	assert.Assert(t, !th.TryAcquire(1))
	fc.Step(500 * time.Millisecond)
	assert.Assert(t, th.TryAcquire(5))
}

func TestEventThrottlerSwapQuota(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	quota := &atomic.Int64{}
	quota.Store(Unlimited)
	th := NewEventThrottler("dyn", DynamicQuota(quota), WithClock(fc))

	assert.Assert(t, th.TryAcquire(1000000))
	assert.Equal(t, th.Remaining(), Unlimited)

	quota.Store(0)
	assert.Assert(t, !th.TryAcquire(1))

	th.SetQuota(FixedQuota(3))
	assert.Assert(t, th.TryAcquire(3))
	th.SetQuota(nil)
	assert.Assert(t, th.TryAcquire(100))
	assert.Equal(t, th.Name(), "dyn")
}

func TestEventThrottlerConcurrentNoOverAdmission(t *testing.T) {
	workerCount := []int{2, 4, 8, 16, 32}
	for _, c := range workerCount {
		fc := testingclock.NewFakeClock(time.Unix(1000, 0))
		th := NewEventThrottler("concurrent", FixedQuota(200), WithClock(fc))
		admitted := int64(0)

		wg := sync.WaitGroup{}
		for i := 0; i < c; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					if th.TryAcquire(1) {
						atomic.AddInt64(&admitted, 1)
					}
				}
			}()
		}
		wg.Wait()
		expect := int64(200)
		if int64(c*100) < expect {
			expect = int64(c * 100)
		}
		assert.Equal(t, admitted, expect, "workers %d", c)
	}
}

func TestEventThrottlerAcquireBlocks(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	th := NewEventThrottler("blocking", FixedQuota(1), WithClock(fc))
	assert.Assert(t, th.Acquire(context.Background(), 1))

	done := make(chan bool)
	go func() {
		done <- th.Acquire(context.Background(), 1)
	}()
	for !fc.HasWaiters() {
		time.Sleep(time.Millisecond)
	}
	fc.Step(time.Second)
	assert.Assert(t, <-done)

	// can never fit into a window
	assert.Assert(t, !th.Acquire(context.Background(), 2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Assert(t, !th.Acquire(ctx, 1))
}

func TestEventThrottlerFractionalBudget(t *testing.T) {
	// half an event per window, the loose mode spends one window in advance
	expect := map[bool]int{false: 25, true: 26}
	for _, checkFirst := range []bool{false, true} {
		fc := testingclock.NewFakeClock(time.Unix(1000, 0))
		opts := []throttlerOpts{WithClock(fc), WithWindow(100 * time.Millisecond)}
		if checkFirst {
			opts = append(opts, WithCheckQuotaBeforeRecording())
		}
		th := NewEventThrottler("slow", FixedQuota(5), opts...)

		admitted := 0
		for i := 0; i < 50; i++ {
			if th.TryAcquire(1) {
				admitted++
			}
			fc.Step(100 * time.Millisecond)
		}
		assert.Equal(t, admitted, expect[checkFirst], "check quota first: %v", checkFirst)
	}
}

func TestEventThrottlerOversizedBatch(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	strict := NewEventThrottler("strict", FixedQuota(10), WithClock(fc))
	loose := NewEventThrottler("loose", FixedQuota(10), WithClock(fc), WithCheckQuotaBeforeRecording())

	strictAdmitted, looseAdmitted := 0, 0
	for i := 0; i < 20; i++ {
		if strict.TryAcquire(11) {
			strictAdmitted++
		}
		if loose.TryAcquire(11) {
			looseAdmitted++
		}
		fc.Step(time.Second)
	}
	assert.Equal(t, strictAdmitted, 0)
	// the excess of each batch is repaid by later windows
	assert.Equal(t, looseAdmitted, 19)

	fc.Step(time.Hour)
	assert.Equal(t, loose.Remaining(), int64(10))
	assert.Assert(t, loose.TryAcquire(25))
	assert.Equal(t, loose.Remaining(), int64(0))
	assert.Assert(t, !loose.TryAcquire(1))
	fc.Step(time.Second)
	assert.Assert(t, !loose.TryAcquire(1))
	fc.Step(time.Second)
	assert.Equal(t, loose.Remaining(), int64(5))
	assert.Assert(t, loose.TryAcquire(1))
}

func TestEventThrottlerAcquireOversizedBatch(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Unix(1000, 0))
	th := NewEventThrottler("blocking", FixedQuota(2), WithClock(fc), WithCheckQuotaBeforeRecording())
	assert.Assert(t, th.Acquire(context.Background(), 5))

	done := make(chan bool)
	go func() {
		done <- th.Acquire(context.Background(), 5)
	}()
	for i := 0; i < 2; i++ {
		for !fc.HasWaiters() {
			time.Sleep(time.Millisecond)
		}
		fc.Step(time.Second)
	}
	assert.Assert(t, <-done)
}
