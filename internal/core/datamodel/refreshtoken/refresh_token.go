package refreshtoken

import "time"

// RefreshToken is a ledger row. Only the SHA-256 hash of the opaque token is
// stored; the plaintext value exists only in the response to the client.
type RefreshToken struct {
	ID        string     `db:"id"`
	TokenHash string     `db:"token_hash"`
	UserID    int64      `db:"user_id"`
	ExpiresAt time.Time  `db:"expires_at"`
	IsRevoked bool       `db:"is_revoked"`
	RevokedAt *time.Time `db:"revoked_at"`
	IPAddress string     `db:"ip_address"`
	UserAgent string     `db:"user_agent"`
	CreatedAt time.Time  `db:"created_at"`
}
