package auth_test

import (
	"errors"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const testSigningKey = "test-signing-key-with-at-least-32-chars"

var _ = Describe("TokenCodec", func() {
	var (
		clock *fakeClock
		codec *auth.TokenCodec
	)

	BeforeEach(func() {
		clock = newFakeClock()
		codec = auth.NewTokenCodec(testSigningKey, "traffic-auth", 15*time.Minute, clock.Now, discardLogger)
	})

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		Expect(err).NotTo(HaveOccurred())
		return token
	}

	claimsAt := func(typ, issuer, subject string) *auth.Claims {
		now := clock.Now()
		return &auth.Claims{
			TokenType: typ,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   subject,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			},
		}
	}

	It("round-trips the subject and standard claims", func() {
		token, expiresAt, err := codec.Issue(42)
		Expect(err).NotTo(HaveOccurred())
		Expect(expiresAt).To(BeTemporally("==", clock.Now().Add(15*time.Minute)))

		claims, err := codec.Parse(token)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.Subject).To(Equal("42"))
		Expect(claims.TokenType).To(Equal(auth.TokenTypeAccess))
		Expect(claims.Issuer).To(Equal("traffic-auth"))
		Expect(claims.ID).To(HaveLen(26))

		id, err := claims.UserID()
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(int64(42)))
	})

	It("gives every token a distinct id", func() {
		a, _, _ := codec.Issue(42)
		b, _, _ := codec.Issue(42)
		ca, _ := codec.Parse(a)
		cb, _ := codec.Parse(b)
		Expect(ca.ID).NotTo(Equal(cb.ID))
	})

	It("rejects expired tokens", func() {
		token, _, _ := codec.Issue(42)
		clock.Advance(16 * time.Minute)

		_, err := codec.Parse(token)
		Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
	})

	DescribeTable("rejects tampered or foreign tokens",
		func(build func() string) {
			_, err := codec.Parse(build())
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
		},
		Entry("garbage", func() string { return "not-a-jwt" }),
		Entry("wrong key", func() string {
			return sign(jwt.SigningMethodHS256, []byte("another-signing-key-of-32-characters!"), claimsAt("access", "traffic-auth", "42"))
		}),
		Entry("wrong algorithm", func() string {
			return sign(jwt.SigningMethodHS384, []byte(testSigningKey), claimsAt("access", "traffic-auth", "42"))
		}),
		Entry("unsigned", func() string {
			return sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, claimsAt("access", "traffic-auth", "42"))
		}),
		Entry("wrong type", func() string {
			return sign(jwt.SigningMethodHS256, []byte(testSigningKey), claimsAt("refresh", "traffic-auth", "42"))
		}),
		Entry("wrong issuer", func() string {
			return sign(jwt.SigningMethodHS256, []byte(testSigningKey), claimsAt("access", "someone-else", "42"))
		}),
		Entry("non-numeric subject", func() string {
			return sign(jwt.SigningMethodHS256, []byte(testSigningKey), claimsAt("access", "traffic-auth", "alice"))
		}),
	)

	It("rejects a token missing its expiry", func() {
		claims := claimsAt("access", "traffic-auth", "42")
		claims.ExpiresAt = nil
		_, err := codec.Parse(sign(jwt.SigningMethodHS256, []byte(testSigningKey), claims))
		Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
	})
})
