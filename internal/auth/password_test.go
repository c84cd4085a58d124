package auth_test

import (
	"strings"

	"github.com/frahmantamala/traffic-auth/internal/auth"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

var fastArgon = auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}

var _ = Describe("PasswordHasher", func() {
	Context("bcrypt", func() {
		hasher := auth.NewPasswordHasher(auth.AlgorithmBcrypt, bcrypt.MinCost, fastArgon)

		It("hashes and verifies", func() {
			digest, err := hasher.Hash("Secret123")
			Expect(err).NotTo(HaveOccurred())
			Expect(digest).To(HavePrefix("$2a$"))
			Expect(digest).NotTo(ContainSubstring("Secret123"))

			ok, err := hasher.Verify("Secret123", digest)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = hasher.Verify("secret123", digest)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("salts every digest", func() {
			a, _ := hasher.Hash("Secret123")
			b, _ := hasher.Hash("Secret123")
			Expect(a).NotTo(Equal(b))
		})

		It("treats an over-long candidate as a mismatch", func() {
			digest, _ := hasher.Hash("Secret123")
			ok, err := hasher.Verify(strings.Repeat("a", 100), digest)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("asks for a rehash when the cost went up", func() {
			digest, _ := hasher.Hash("Secret123")
			stronger := auth.NewPasswordHasher(auth.AlgorithmBcrypt, bcrypt.MinCost+1, fastArgon)
			Expect(hasher.NeedsRehash(digest)).To(BeFalse())
			Expect(stronger.NeedsRehash(digest)).To(BeTrue())
		})
	})

	Context("argon2id", func() {
		hasher := auth.NewPasswordHasher(auth.AlgorithmArgon2id, bcrypt.MinCost, fastArgon)

		It("produces a PHC string that verifies", func() {
			digest, err := hasher.Hash("Secret123")
			Expect(err).NotTo(HaveOccurred())
			Expect(digest).To(HavePrefix("$argon2id$v=19$m=1024,t=1,p=1$"))

			ok, err := hasher.Verify("Secret123", digest)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, _ = hasher.Verify("Wrong1234", digest)
			Expect(ok).To(BeFalse())
		})

		It("still verifies bcrypt digests and flags them for rehash", func() {
			legacy := auth.NewPasswordHasher(auth.AlgorithmBcrypt, bcrypt.MinCost, fastArgon)
			digest, _ := legacy.Hash("Secret123")

			ok, err := hasher.Verify("Secret123", digest)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(hasher.NeedsRehash(digest)).To(BeTrue())
		})

		It("flags weaker parameters for rehash", func() {
			digest, _ := hasher.Hash("Secret123")
			stronger := auth.NewPasswordHasher(auth.AlgorithmArgon2id, bcrypt.MinCost, auth.Argon2Params{Memory: 2048, Iterations: 1, Parallelism: 1})
			Expect(hasher.NeedsRehash(digest)).To(BeFalse())
			Expect(stronger.NeedsRehash(digest)).To(BeTrue())
		})
	})

	It("rejects digests it cannot interpret", func() {
		hasher := auth.NewPasswordHasher(auth.AlgorithmBcrypt, bcrypt.MinCost, fastArgon)

		_, err := hasher.Verify("Secret123", "plaintext")
		Expect(err).To(HaveOccurred())

		_, err = hasher.Verify("Secret123", "$argon2id$v=19$broken")
		Expect(err).To(HaveOccurred())
	})

	It("runs a dummy verification without failing", func() {
		hasher := auth.NewPasswordHasher(auth.AlgorithmBcrypt, bcrypt.MinCost, fastArgon)
		Expect(func() { hasher.DummyVerify("whatever") }).NotTo(Panic())
	})
})
