package authsession

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInactivityTimeout ends an authorized session after thirty idle minutes
const DefaultInactivityTimeout = 30 * time.Minute

// ActivitySignal is a user interaction reported by the presentation layer
type ActivitySignal string

const (
	SignalPointerDown ActivitySignal = "pointer_down"
	SignalPointerMove ActivitySignal = "pointer_move"
	SignalKeyPress    ActivitySignal = "key_press"
	SignalScroll      ActivitySignal = "scroll"
	SignalTouchStart  ActivitySignal = "touch_start"
)

// ResetsInactivity reports whether the signal counts as user activity.
func (s ActivitySignal) ResetsInactivity() bool {
	switch s {
	case SignalPointerDown, SignalPointerMove, SignalKeyPress, SignalScroll, SignalTouchStart:
		return true
	default:
		return false
	}
}

// ActivitySource delivers activity signals to subscribers.
type ActivitySource interface {
	Subscribe(fn func(ActivitySignal)) (unsubscribe func())
}

// inactivityGuard owns the idle timer and the activity subscription of one
// authorized session. Once stopped it never fires and never re-arms.
type inactivityGuard struct {
	id      uuid.UUID
	clock   Clock
	timeout time.Duration
	onIdle  func(*inactivityGuard)

	mu           sync.Mutex
	timer        Timer
	generation   uint64
	unsubscribe  func()
	armed        bool
	stopped      bool
	lastActivity time.Time
}

func newInactivityGuard(clock Clock, timeout time.Duration, onIdle func(*inactivityGuard)) *inactivityGuard {
	return &inactivityGuard{
		id:      uuid.New(),
		clock:   clock,
		timeout: timeout,
		onIdle:  onIdle,
	}
}

func (g *inactivityGuard) arm(source ActivitySource) {
	g.mu.Lock()
	if g.armed || g.stopped {
		g.mu.Unlock()
		return
	}
	g.armed = true
	g.lastActivity = g.clock.Now()
	g.scheduleLocked()
	g.mu.Unlock()

	if source == nil {
		return
	}

	unsubscribe := source.Subscribe(g.touch)

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	g.unsubscribe = unsubscribe
	g.mu.Unlock()
}

func (g *inactivityGuard) touch(signal ActivitySignal) {
	if !signal.ResetsInactivity() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed || g.stopped {
		return
	}
	g.lastActivity = g.clock.Now()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.scheduleLocked()
}

func (g *inactivityGuard) scheduleLocked() {
	g.generation++
	gen := g.generation
	g.timer = g.clock.AfterFunc(g.timeout, func() {
		g.fire(gen)
	})
}

func (g *inactivityGuard) fire(gen uint64) {
	g.mu.Lock()
	if g.stopped || gen != g.generation {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	if g.onIdle != nil {
		g.onIdle(g)
	}
}

func (g *inactivityGuard) stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (g *inactivityGuard) idleSince() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastActivity
}
