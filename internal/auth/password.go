package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"

	argonSaltLen = 16
	argonKeyLen  = 32
)

var errUnknownHashFormat = errors.New("unknown password hash format")

// Argon2Params tunes argon2id hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Memory: 64 * 1024, Iterations: 3, Parallelism: 1}
}

// PasswordHasher produces self-describing digests. bcrypt digests carry their
// $2a$/$2b$ prefix and argon2id digests use the PHC string format, so Verify
// can dispatch on any stored digest regardless of the configured algorithm.
type PasswordHasher struct {
	algorithm  string
	bcryptCost int
	argon      Argon2Params

	dummyOnce sync.Once
	dummy     string
}

func NewPasswordHasher(algorithm string, bcryptCost int, argon Argon2Params) *PasswordHasher {
	if algorithm != AlgorithmArgon2id {
		algorithm = AlgorithmBcrypt
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	if argon.Memory == 0 || argon.Iterations == 0 || argon.Parallelism == 0 {
		argon = DefaultArgon2Params()
	}
	return &PasswordHasher{algorithm: algorithm, bcryptCost: bcryptCost, argon: argon}
}

func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if h.algorithm == AlgorithmArgon2id {
		return h.hashArgon2id(plaintext)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

func (h *PasswordHasher) hashArgon2id(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.argon.Iterations, h.argon.Memory, h.argon.Parallelism, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.argon.Memory, h.argon.Iterations, h.argon.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches digest. A mismatch is (false, nil);
// an error means the digest itself could not be interpreted.
func (h *PasswordHasher) Verify(plaintext, digest string) (bool, error) {
	switch {
	case isBcrypt(digest):
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	case strings.HasPrefix(digest, "$argon2id$"):
		return verifyArgon2id(plaintext, digest)
	default:
		return false, errUnknownHashFormat
	}
}

// NeedsRehash reports whether digest was produced with a different algorithm
// or weaker parameters than currently configured.
func (h *PasswordHasher) NeedsRehash(digest string) bool {
	if h.algorithm == AlgorithmBcrypt {
		if !isBcrypt(digest) {
			return true
		}
		cost, err := bcrypt.Cost([]byte(digest))
		return err != nil || cost < h.bcryptCost
	}

	_, _, params, err := decodePHC(digest)
	if err != nil {
		return true
	}
	return params.Memory < h.argon.Memory ||
		params.Iterations < h.argon.Iterations ||
		params.Parallelism < h.argon.Parallelism
}

// DummyVerify spends roughly the cost of a real verification so unknown
// usernames are not distinguishable by response time.
func (h *PasswordHasher) DummyVerify(plaintext string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.Hash("dummy-password-for-timing")
	})
	if h.dummy != "" {
		_, _ = h.Verify(plaintext, h.dummy)
	}
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func verifyArgon2id(plaintext, digest string) (bool, error) {
	salt, key, params, err := decodePHC(digest)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(plaintext), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

func decodePHC(encoded string) (salt, key []byte, params Argon2Params, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return nil, nil, params, errUnknownHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}
	return salt, key, params, nil
}
