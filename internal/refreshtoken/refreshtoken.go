package refreshtoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	refreshDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/refreshtoken"
	"github.com/frahmantamala/traffic-auth/pkg/ids"
)

const tokenBytes = 32

var (
	ErrNotFound = errors.New("refresh token not found")
	ErrRevoked  = errors.New("refresh token revoked")
	ErrExpired  = errors.New("refresh token expired")
)

// RepositoryAPI persists ledger rows keyed by token hash.
type RepositoryAPI interface {
	Insert(ctx context.Context, token *refreshDatamodel.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*refreshDatamodel.RefreshToken, error)
	// RevokeIfActive revokes the row only if it is neither revoked nor expired
	// at now. It reports whether this call performed the revocation.
	RevokeIfActive(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	Revoke(ctx context.Context, tokenHash string, now time.Time) error
	RevokeByID(ctx context.Context, userID int64, id string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID int64, now time.Time) (int64, error)
	ListActive(ctx context.Context, userID int64, now time.Time) ([]*refreshDatamodel.RefreshToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Session is the public view of a ledger row.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func sessionFromRow(row *refreshDatamodel.RefreshToken) *Session {
	return &Session{
		ID:        row.ID,
		UserID:    row.UserID,
		ExpiresAt: row.ExpiresAt,
		IPAddress: row.IPAddress,
		UserAgent: row.UserAgent,
		CreatedAt: row.CreatedAt,
	}
}

// Issued carries the plaintext token. It is never stored.
type Issued struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

type Ledger struct {
	repo   RepositoryAPI
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLedger(repo RepositoryAPI, ttl time.Duration, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC()
}

// HashToken returns the hex SHA-256 of an opaque token as stored in the ledger.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (l *Ledger) Issue(ctx context.Context, userID int64, ip, userAgent string) (*Issued, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := l.clock()
	row := &refreshDatamodel.RefreshToken{
		ID:        ids.NewAt(now),
		TokenHash: HashToken(token),
		UserID:    userID,
		ExpiresAt: now.Add(l.ttl),
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: now,
	}
	if err := l.repo.Insert(ctx, row); err != nil {
		return nil, err
	}

	l.logger.Debug("refresh token issued", "user_id", userID, "token_id", row.ID)
	return &Issued{ID: row.ID, Token: token, ExpiresAt: row.ExpiresAt}, nil
}

// Redeem consumes token. Exactly one of any number of concurrent callers
// presenting the same token succeeds; the rest observe ErrRevoked.
func (l *Ledger) Redeem(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	hash := HashToken(token)
	now := l.clock()

	consumed, err := l.repo.RevokeIfActive(ctx, hash, now)
	if err != nil {
		return nil, err
	}

	row, err := l.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	switch {
	case row == nil:
		return nil, ErrNotFound
	case consumed:
		return sessionFromRow(row), nil
	case row.IsRevoked:
		return nil, ErrRevoked
	default:
		return nil, ErrExpired
	}
}

// Revoke marks token revoked. Unknown and already revoked tokens are not an
// error.
func (l *Ledger) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return l.repo.Revoke(ctx, HashToken(token), l.clock())
}

// RevokeSession revokes one of the user's sessions by record id.
func (l *Ledger) RevokeSession(ctx context.Context, userID int64, id string) (bool, error) {
	return l.repo.RevokeByID(ctx, userID, id, l.clock())
}

func (l *Ledger) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	n, err := l.repo.RevokeAllForUser(ctx, userID, l.clock())
	if err != nil {
		return 0, err
	}
	l.logger.Debug("refresh tokens revoked", "user_id", userID, "count", n)
	return n, nil
}

func (l *Ledger) ListActive(ctx context.Context, userID int64) ([]*Session, error) {
	rows, err := l.repo.ListActive(ctx, userID, l.clock())
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, sessionFromRow(row))
	}
	return sessions, nil
}

// Prune deletes rows that expired before now minus retention. Revoked rows
// are kept until they expire.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return l.repo.DeleteExpired(ctx, l.clock().Add(-retention))
}
