package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/pkg/ids"
	"github.com/golang-jwt/jwt/v5"
)

const TokenTypeAccess = "access"

// Claims is the signed payload of an access token. Refresh tokens are opaque
// ledger values and never carry claims.
type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject as a numeric user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return id, nil
}

// TokenCodec signs and parses HS256 access tokens.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewTokenCodec(signingKey, issuer string, ttl time.Duration, now func() time.Time, logger *slog.Logger) *TokenCodec {
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		now:        now,
		logger:     logger,
	}
}

func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs an access token for userID. It returns the token and its expiry.
func (c *TokenCodec) Issue(userID int64) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.ttl)

	claims := &Claims{
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ids.NewAt(now),
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates signature, algorithm, issuer, expiry and token type. Every
// failure collapses into ErrInvalidToken; the cause is only logged.
func (c *TokenCodec) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return c.signingKey, nil
	}, opts...)
	if err == nil && !token.Valid {
		err = errors.New("token not valid")
	}
	if err == nil && claims.TokenType != TokenTypeAccess {
		err = fmt.Errorf("unexpected token type %q", claims.TokenType)
	}
	if err == nil {
		_, err = claims.UserID()
	}
	if err != nil {
		c.logger.Debug("access token rejected", "reason", err)
		return nil, internal.ErrInvalidToken.WithCause(err)
	}
	return claims, nil
}
