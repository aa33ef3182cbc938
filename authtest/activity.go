package authtest

import (
	"sync"

	"github.com/google/uuid"

	authsession "github.com/goliatone/go-authsession"
)

// ActivityBus is an authsession.ActivitySource fed by Publish. It counts
// subscriptions so tests can assert they are released.
type ActivityBus struct {
	mu           sync.Mutex
	subscribers  map[uuid.UUID]func(authsession.ActivitySignal)
	subscribed   int
	unsubscribed int
}

var _ authsession.ActivitySource = (*ActivityBus)(nil)

func NewActivityBus() *ActivityBus {
	return &ActivityBus{subscribers: map[uuid.UUID]func(authsession.ActivitySignal){}}
}

func (b *ActivityBus) Subscribe(fn func(authsession.ActivitySignal)) func() {
	id := uuid.New()
	b.mu.Lock()
	b.subscribers[id] = fn
	b.subscribed++
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.unsubscribed++
			b.mu.Unlock()
		})
	}
}

// Publish delivers signal to every current subscriber
func (b *ActivityBus) Publish(signal authsession.ActivitySignal) {
	b.mu.Lock()
	fns := make([]func(authsession.ActivitySignal), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(signal)
	}
}

// Active is the number of live subscriptions
func (b *ActivityBus) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Counts returns how many subscriptions were made and released
func (b *ActivityBus) Counts() (subscribed, unsubscribed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed, b.unsubscribed
}
