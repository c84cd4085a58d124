package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	refreshDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/refreshtoken"
	"github.com/frahmantamala/traffic-auth/internal/refreshtoken"
	"github.com/jmoiron/sqlx"
)

const columns = `id, token_hash, user_id, expires_at, is_revoked, revoked_at, ip_address, user_agent, created_at`

type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository binds statements through db.Rebind so the same
// queries run on pgx and sqlite3.
func NewRefreshTokenRepository(db *sqlx.DB) refreshtoken.RepositoryAPI {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Insert(ctx context.Context, token *refreshDatamodel.RefreshToken) error {
	query := `
INSERT INTO refresh_tokens (` + columns + `)
VALUES (:id, :token_hash, :user_id, :expires_at, :is_revoked, :revoked_at, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*refreshDatamodel.RefreshToken, error) {
	var row refreshDatamodel.RefreshToken
	query := r.db.Rebind(`SELECT ` + columns + ` FROM refresh_tokens WHERE token_hash = ?`)
	if err := r.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &row, nil
}

func (r *RefreshTokenRepository) RevokeIfActive(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	query := r.db.Rebind(`
UPDATE refresh_tokens
SET is_revoked = ?, revoked_at = ?
WHERE token_hash = ? AND is_revoked = ? AND expires_at > ?`)
	res, err := r.db.ExecContext(ctx, query, true, now, tokenHash, false, now)
	if err != nil {
		return false, fmt.Errorf("redeem refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash string, now time.Time) error {
	query := r.db.Rebind(`
UPDATE refresh_tokens
SET is_revoked = ?, revoked_at = ?
WHERE token_hash = ? AND is_revoked = ?`)
	if _, err := r.db.ExecContext(ctx, query, true, now, tokenHash, false); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeByID(ctx context.Context, userID int64, id string, now time.Time) (bool, error) {
	query := r.db.Rebind(`
UPDATE refresh_tokens
SET is_revoked = ?, revoked_at = ?
WHERE id = ? AND user_id = ? AND is_revoked = ?`)
	res, err := r.db.ExecContext(ctx, query, true, now, id, userID, false)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID int64, now time.Time) (int64, error) {
	query := r.db.Rebind(`
UPDATE refresh_tokens
SET is_revoked = ?, revoked_at = ?
WHERE user_id = ? AND is_revoked = ?`)
	res, err := r.db.ExecContext(ctx, query, true, now, userID, false)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func (r *RefreshTokenRepository) ListActive(ctx context.Context, userID int64, now time.Time) ([]*refreshDatamodel.RefreshToken, error) {
	rows := []*refreshDatamodel.RefreshToken{}
	query := r.db.Rebind(`
SELECT ` + columns + `
FROM refresh_tokens
WHERE user_id = ? AND is_revoked = ? AND expires_at > ?
ORDER BY created_at DESC`)
	if err := r.db.SelectContext(ctx, &rows, query, userID, false, now); err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	return rows, nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM refresh_tokens WHERE expires_at < ?`)
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
