package authsession

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTokenKey is the key the bearer token is persisted under
const DefaultTokenKey = "access_token"

const defaultMediumTimeout = 5 * time.Second

const defaultConfigMediumTimeout = time.Second

// TokenStore holds the single bearer token. None of its methods fail or
// panic: storage problems degrade to an in-session copy.
//
// The Machine calls Set and Remove while holding its own lock so the store
// and the published snapshot never disagree. Implementations must return
// promptly; PersistentTokenStore bounds each medium call with its timeout
// (WithTokenStoreTimeout, storage.timeout_ms in Config).
type TokenStore interface {
	TokenReader
	Set(token string)
	Remove()
}

// TokenMedium is a persistence backend for the token slot. Unlike TokenStore
// it reports failures; NewTokenStore turns them into warnings.
type TokenMedium interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// MemoryTokenStore keeps the token in process memory only.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryTokenStore returns an empty in-process slot
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set stores token. An empty token is ignored; use Remove to clear.
func (s *MemoryTokenStore) Set(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *MemoryTokenStore) Remove() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// TokenStoreOption configures a PersistentTokenStore
type TokenStoreOption func(*PersistentTokenStore)

// WithTokenStoreLogger sets the logger used for medium failures.
func WithTokenStoreLogger(logger Logger) TokenStoreOption {
	return func(s *PersistentTokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenStoreLoggerProvider resolves the store logger from provider.
func WithTokenStoreLoggerProvider(provider LoggerProvider) TokenStoreOption {
	return func(s *PersistentTokenStore) {
		if provider != nil {
			s.loggerProvider = provider
		}
	}
}

// WithTokenStoreTimeout bounds each medium call.
func WithTokenStoreTimeout(d time.Duration) TokenStoreOption {
	return func(s *PersistentTokenStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// PersistentTokenStore is a fail-soft TokenStore over a TokenMedium. The
// medium is read lazily on first Get; afterwards the in-session copy is
// authoritative and every write is mirrored to the medium.
type PersistentTokenStore struct {
	medium         TokenMedium
	logger         Logger
	loggerProvider LoggerProvider
	timeout        time.Duration

	mu     sync.Mutex
	token  string
	loaded bool
}

// NewTokenStore wraps medium. A nil medium behaves like a memory store.
func NewTokenStore(medium TokenMedium, opts ...TokenStoreOption) *PersistentTokenStore {
	s := &PersistentTokenStore{
		medium:  medium,
		timeout: defaultMediumTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.loggerProvider, s.logger = ResolveLogger("authsession.token_store", s.loggerProvider, s.logger)
	return s
}

func (s *PersistentTokenStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.loaded = true
		var token string
		err := s.call("load", func(ctx context.Context) error {
			var err error
			token, err = s.medium.Load(ctx)
			return err
		})
		if err == nil {
			s.token = token
		}
	}
	return s.token, s.token != ""
}

// Set stores token. An empty token is ignored; use Remove to clear.
func (s *PersistentTokenStore) Set(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	s.loaded = true
	_ = s.call("save", func(ctx context.Context) error {
		return s.medium.Save(ctx, token)
	})
}

func (s *PersistentTokenStore) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.loaded = true
	_ = s.call("delete", func(ctx context.Context) error {
		return s.medium.Delete(ctx)
	})
}

func (s *PersistentTokenStore) call(op string, fn func(ctx context.Context) error) (err error) {
	if s.medium == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("token medium %s panicked: %v", op, r)
		}
		if err != nil {
			s.logger.Warn("token medium unavailable, using in-session token", "op", op, "error", err)
		}
	}()

	return fn(ctx)
}
