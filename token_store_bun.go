package authsession

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type tokenRecord struct {
	bun.BaseModel `bun:"table:auth_tokens,alias:at"`

	TokenKey  string    `bun:"token_key,pk"`
	Token     string    `bun:"token,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// BunTokenMedium persists the token as one row of the auth_tokens table.
type BunTokenMedium struct {
	db    bun.IDB
	key   string
	now   func() time.Time
	close func() error
}

// BunTokenMediumOption configures a BunTokenMedium
type BunTokenMediumOption func(*BunTokenMedium)

// WithBunTokenClock overrides the updated_at timestamp source.
func WithBunTokenClock(now func() time.Time) BunTokenMediumOption {
	return func(m *BunTokenMedium) {
		if now != nil {
			m.now = now
		}
	}
}

// NewBunTokenMedium stores the token under key using db. The caller owns db.
func NewBunTokenMedium(db bun.IDB, key string, opts ...BunTokenMediumOption) *BunTokenMedium {
	if key == "" {
		key = DefaultTokenKey
	}
	m := &BunTokenMedium{
		db:  db,
		key: key,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// OpenSQLiteTokenMedium opens a sqlite database at dsn, creates the token
// table if needed and returns a medium that owns the connection.
func OpenSQLiteTokenMedium(ctx context.Context, dsn, key string, opts ...BunTokenMediumOption) (*BunTokenMedium, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open token database").
			WithMetadata(map[string]any{"dsn": dsn})
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	m := NewBunTokenMedium(db, key, opts...)
	m.close = db.Close

	if err := m.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// EnsureSchema creates the auth_tokens table when it does not exist.
func (m *BunTokenMedium) EnsureSchema(ctx context.Context) error {
	_, err := m.db.NewCreateTable().
		Model((*tokenRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create auth_tokens table")
	}
	return nil
}

func (m *BunTokenMedium) Load(ctx context.Context) (string, error) {
	rec := new(tokenRecord)
	err := m.db.NewSelect().
		Model(rec).
		Where("? = ?", bun.Ident("token_key"), m.key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load token")
	}
	return rec.Token, nil
}

func (m *BunTokenMedium) Save(ctx context.Context, token string) error {
	rec := &tokenRecord{
		TokenKey:  m.key,
		Token:     token,
		UpdatedAt: m.now(),
	}
	_, err := m.db.NewInsert().
		Model(rec).
		On("CONFLICT (token_key) DO UPDATE").
		Set("token = EXCLUDED.token").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save token")
	}
	return nil
}

func (m *BunTokenMedium) Delete(ctx context.Context) error {
	_, err := m.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("? = ?", bun.Ident("token_key"), m.key).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete token")
	}
	return nil
}

// Close releases the database when the medium opened it.
func (m *BunTokenMedium) Close() error {
	if m.close == nil {
		return nil
	}
	return m.close()
}
