package pushmonitor

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"k8s.io/utils/clock"
)

// DeadInstanceTracker remembers, per version topic, when too many dead
// instances were first observed. Keys are independent; unrelated topics never
// contend on a shared lock.
type DeadInstanceTracker struct {
	clock       clock.PassiveClock
	firstBreach *xsync.MapOf[string, time.Time]
}

func NewDeadInstanceTracker(c clock.PassiveClock) *DeadInstanceTracker {
	if c == nil {
		c = clock.RealClock{}
	}
	return &DeadInstanceTracker{
		clock:       c,
		firstBreach: xsync.NewMapOf[string, time.Time](),
	}
}

// Observe records a breach for topic and returns how long it has lasted.
func (t *DeadInstanceTracker) Observe(topic string) time.Duration {
	now := t.clock.Now()
	first, _ := t.firstBreach.LoadOrStore(topic, now)
	return now.Sub(first)
}

func (t *DeadInstanceTracker) Clear(topic string) {
	t.firstBreach.Delete(topic)
}

func (t *DeadInstanceTracker) FirstBreach(topic string) (time.Time, bool) {
	return t.firstBreach.Load(topic)
}

func (t *DeadInstanceTracker) Len() int {
	return t.firstBreach.Size()
}
