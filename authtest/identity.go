package authtest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	authsession "github.com/goliatone/go-authsession"
)

// IdentityProvider is a scriptable authsession.IdentityProvider.
type IdentityProvider struct {
	mu           sync.Mutex
	session      *authsession.IdentitySession
	sessionErr   error
	signOutErr   error
	signOutCalls int
	echoSignOut  bool
	listeners    map[uuid.UUID]func(authsession.IdentityEvent)
}

var _ authsession.IdentityProvider = (*IdentityProvider)(nil)

func NewIdentityProvider() *IdentityProvider {
	return &IdentityProvider{listeners: map[uuid.UUID]func(authsession.IdentityEvent){}}
}

// SetSession sets what GetSession returns
func (p *IdentityProvider) SetSession(session *authsession.IdentitySession, err error) {
	p.mu.Lock()
	p.session = session
	p.sessionErr = err
	p.mu.Unlock()
}

// FailSignOut makes SignOut return err
func (p *IdentityProvider) FailSignOut(err error) {
	p.mu.Lock()
	p.signOutErr = err
	p.mu.Unlock()
}

// EchoSignOut makes SignOut emit SIGNED_OUT to listeners, like hosted
// providers that broadcast their own sign-outs.
func (p *IdentityProvider) EchoSignOut(echo bool) {
	p.mu.Lock()
	p.echoSignOut = echo
	p.mu.Unlock()
}

func (p *IdentityProvider) GetSession(ctx context.Context) (*authsession.IdentitySession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	return p.session.Clone(), nil
}

func (p *IdentityProvider) OnAuthStateChange(fn func(authsession.IdentityEvent)) func() {
	id := uuid.New()
	p.mu.Lock()
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *IdentityProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOutCalls++
	p.session = nil
	err, echo := p.signOutErr, p.echoSignOut
	p.mu.Unlock()

	if echo && err == nil {
		p.SignOutRemotely()
	}
	return err
}

// Emit delivers event to every listener on the calling goroutine.
func (p *IdentityProvider) Emit(event authsession.IdentityEvent) {
	p.mu.Lock()
	if event.Type == authsession.IdentitySignedOut {
		p.session = nil
	} else if event.Session != nil {
		p.session = event.Session.Clone()
	}
	fns := make([]func(authsession.IdentityEvent), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

// SignIn emits SIGNED_IN for accessToken
func (p *IdentityProvider) SignIn(accessToken string) {
	p.Emit(authsession.IdentityEvent{
		Type:    authsession.IdentitySignedIn,
		Session: authsession.NewIdentitySession(accessToken),
	})
}

// SignOutRemotely emits SIGNED_OUT as if the session ended elsewhere
func (p *IdentityProvider) SignOutRemotely() {
	p.Emit(authsession.IdentityEvent{Type: authsession.IdentitySignedOut})
}

func (p *IdentityProvider) SignOutCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOutCalls
}

func (p *IdentityProvider) Listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}
