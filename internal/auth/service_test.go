package auth_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/auth"
	rbacDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/rbac"
	userDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/user"
	"github.com/frahmantamala/traffic-auth/internal/core/events"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
	rbacPostgres "github.com/frahmantamala/traffic-auth/internal/rbac/postgres"
	"github.com/frahmantamala/traffic-auth/internal/refreshtoken"
	refreshPostgres "github.com/frahmantamala/traffic-auth/internal/refreshtoken/postgres"
	"github.com/frahmantamala/traffic-auth/internal/user"
	userPostgres "github.com/frahmantamala/traffic-auth/internal/user/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestAuth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Module Suite")
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const refreshTokensDDL = `
CREATE TABLE refresh_tokens (
	id          TEXT PRIMARY KEY,
	token_hash  TEXT NOT NULL UNIQUE,
	user_id     INTEGER NOT NULL,
	expires_at  TIMESTAMP NOT NULL,
	is_revoked  BOOLEAN NOT NULL DEFAULT 0,
	revoked_at  TIMESTAMP NULL,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
)`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.AuthEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ae, ok := e.(*events.AuthEvent); ok {
		p.events = append(p.events, ae)
	}
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []*events.AuthEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*events.AuthEvent
	for _, e := range p.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// testEnv wires the orchestrator against one in-memory sqlite database shared
// by gorm and sqlx, the same way the server shares one pgx pool.
type testEnv struct {
	db        *gorm.DB
	sqlDB     *sql.DB
	clock     *fakeClock
	users     user.RepositoryAPI
	ledger    *refreshtoken.Ledger
	evaluator *rbac.Evaluator
	rbac      *rbac.Manager
	publisher *recordingPublisher
	registry  *prometheus.Registry
	lockout   auth.LockoutPolicy
	service   *auth.Service
}

func newTestEnv() *testEnv {
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	Expect(err).NotTo(HaveOccurred())
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.New(sqlite.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	Expect(err).NotTo(HaveOccurred())
	Expect(db.AutoMigrate(
		&userDatamodel.User{},
		&rbacDatamodel.Role{},
		&rbacDatamodel.Permission{},
		&rbacDatamodel.Service{},
		&rbacDatamodel.UserRole{},
		&rbacDatamodel.RolePermission{},
		&rbacDatamodel.RoleServiceAccess{},
	)).To(Succeed())
	_, err = sqlDB.Exec(refreshTokensDDL)
	Expect(err).NotTo(HaveOccurred())

	env := &testEnv{
		db:        db,
		sqlDB:     sqlDB,
		clock:     newFakeClock(),
		users:     userPostgres.NewUserRepository(db),
		publisher: &recordingPublisher{},
		registry:  prometheus.NewRegistry(),
		lockout:   auth.LockoutPolicy{Threshold: 5, Duration: 30 * time.Minute},
	}

	rbacRepo := rbacPostgres.NewRBACRepository(db)
	env.evaluator = rbac.NewEvaluator(rbacRepo, nil, discardLogger)
	env.rbac = rbac.NewManager(rbacRepo, env.evaluator, nil, discardLogger)
	env.ledger = refreshtoken.NewLedger(
		refreshPostgres.NewRefreshTokenRepository(sqlx.NewDb(sqlDB, "sqlite3")),
		7*24*time.Hour,
		discardLogger,
		refreshtoken.WithClock(env.clock.Now),
	)
	env.service = env.build(auth.NewPasswordHasher(auth.AlgorithmBcrypt, bcrypt.MinCost, fastArgon), auth.NewMetrics(env.registry))
	return env
}

func (e *testEnv) build(hasher *auth.PasswordHasher, metrics *auth.Metrics) *auth.Service {
	return auth.NewService(auth.Dependencies{
		Users:      e.users,
		Hasher:     hasher,
		Tokens:     auth.NewTokenCodec(testSigningKey, "traffic-auth", 15*time.Minute, e.clock.Now, discardLogger),
		Ledger:     e.ledger,
		Authorizer: e.evaluator,
		Publisher:  e.publisher,
		Metrics:    metrics,
		Logger:     discardLogger,
		Now:        e.clock.Now,
		Config: auth.Config{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			Lockout:         e.lockout,
		},
	})
}

func (e *testEnv) close() {
	Expect(e.sqlDB.Close()).To(Succeed())
}

func (e *testEnv) register(username string) *user.User {
	u, err := e.service.Register(context.Background(), auth.RegisterDTO{
		Username: username,
		Email:    username + "@traffic.local",
		Password: "Secret123",
	})
	Expect(err).NotTo(HaveOccurred())
	return u
}

func (e *testEnv) login(username, password string) (*auth.AuthTokens, error) {
	return e.service.Login(context.Background(), auth.LoginDTO{
		Username:  username,
		Password:  password,
		IPAddress: "10.0.0.1",
		UserAgent: "curl/8",
	})
}

var _ = Describe("Service", func() {
	var (
		env *testEnv
		ctx context.Context
	)

	BeforeEach(func() {
		env = newTestEnv()
		ctx = context.Background()
	})

	AfterEach(func() {
		env.close()
	})

	Describe("Register", func() {
		It("creates an active user and never exposes the hash", func() {
			u := env.register("alice")

			Expect(u.ID).To(BeNumerically(">", 0))
			Expect(u.IsActive).To(BeTrue())
			Expect(u.PasswordHash).To(HavePrefix("$2a$"))

			body, err := json.Marshal(u)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).NotTo(ContainSubstring("password"))
			Expect(string(body)).NotTo(ContainSubstring(u.PasswordHash))
			Expect(env.publisher.ofType(events.EventTypeUserRegistered)).To(HaveLen(1))
		})

		It("normalizes the email", func() {
			u, err := env.service.Register(ctx, auth.RegisterDTO{Username: "alice", Email: "  Alice@Traffic.Local ", Password: "Secret123"})
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Email).To(Equal("alice@traffic.local"))
		})

		It("reports a taken username or email as a duplicate", func() {
			env.register("alice")

			_, err := env.service.Register(ctx, auth.RegisterDTO{Username: "alice", Email: "other@traffic.local", Password: "Secret123"})
			Expect(errors.Is(err, internal.ErrDuplicateUser)).To(BeTrue())

			_, err = env.service.Register(ctx, auth.RegisterDTO{Username: "alice2", Email: "alice@traffic.local", Password: "Secret123"})
			Expect(errors.Is(err, internal.ErrDuplicateUser)).To(BeTrue())
		})

		It("lists every broken password rule", func() {
			_, err := env.service.Register(ctx, auth.RegisterDTO{Username: "alice", Email: "alice@traffic.local", Password: "short"})
			Expect(errors.Is(err, internal.ErrWeakPassword)).To(BeTrue())

			appErr := internal.AsAppError(err)
			details, ok := appErr.Details.(internal.ValidationErrors)
			Expect(ok).To(BeTrue())
			codes := make([]string, 0, len(details.Errors))
			for _, d := range details.Errors {
				codes = append(codes, d.Code)
			}
			Expect(codes).To(ConsistOf("MIN_LENGTH", "UPPERCASE", "DIGIT"))
		})

		It("rejects malformed usernames and emails as validation failures", func() {
			_, err := env.service.Register(ctx, auth.RegisterDTO{Username: "a!", Email: "alice@traffic.local", Password: "Secret123"})
			Expect(errors.Is(err, internal.ErrValidationFailed)).To(BeTrue())

			_, err = env.service.Register(ctx, auth.RegisterDTO{Username: "alice", Email: "not-an-email", Password: "Secret123"})
			Expect(errors.Is(err, internal.ErrValidationFailed)).To(BeTrue())
		})
	})

	Describe("Login", func() {
		BeforeEach(func() {
			env.register("alice")
		})

		It("issues a bearer pair", func() {
			tokens, err := env.login("alice", "Secret123")
			Expect(err).NotTo(HaveOccurred())
			Expect(tokens.TokenType).To(Equal("Bearer"))
			Expect(tokens.ExpiresIn).To(Equal(int64(900)))
			Expect(tokens.RefreshToken).To(HaveLen(43))
			Expect(tokens.AccessTokenExpiresAt).To(BeTemporally("==", env.clock.Now().Add(15*time.Minute)))
			Expect(tokens.RefreshTokenExpiresAt).To(BeTemporally("==", env.clock.Now().Add(7*24*time.Hour)))

			u, _ := env.users.GetByUsername(ctx, "alice")
			Expect(u.LastLogin).NotTo(BeNil())
		})

		It("answers unknown usernames and wrong passwords identically", func() {
			_, unknownErr := env.login("mallory", "Secret123")
			_, wrongErr := env.login("alice", "Wrong1234")

			Expect(errors.Is(unknownErr, internal.ErrInvalidCredentials)).To(BeTrue())
			Expect(errors.Is(wrongErr, internal.ErrInvalidCredentials)).To(BeTrue())
			Expect(unknownErr.Error()).To(Equal(wrongErr.Error()))
		})

		It("rejects empty credentials as a validation failure", func() {
			_, err := env.login("", "")
			Expect(errors.Is(err, internal.ErrValidationFailed)).To(BeTrue())
		})

		It("reports an inactive account only when the password is right", func() {
			u, _ := env.users.GetByUsername(ctx, "alice")
			_, err := env.users.SetActive(ctx, u.ID, false)
			Expect(err).NotTo(HaveOccurred())

			_, err = env.login("alice", "Wrong1234")
			Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(BeTrue())

			_, err = env.login("alice", "Secret123")
			Expect(errors.Is(err, internal.ErrUserInactive)).To(BeTrue())
		})

		It("rehashes digests produced with an outdated algorithm", func() {
			argon := env.build(auth.NewPasswordHasher(auth.AlgorithmArgon2id, bcrypt.MinCost, fastArgon), nil)

			_, err := argon.Login(ctx, auth.LoginDTO{Username: "alice", Password: "Secret123"})
			Expect(err).NotTo(HaveOccurred())

			u, _ := env.users.GetByUsername(ctx, "alice")
			Expect(u.PasswordHash).To(HavePrefix("$argon2id$"))

			_, err = env.login("alice", "Secret123")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("lockout", func() {
		BeforeEach(func() {
			env.register("bob")
		})

		It("locks after five failures and unlocks once the duration passed", func() {
			// Given five wrong passwords
			for i := 0; i < 5; i++ {
				_, err := env.login("bob", "Wrong1234")
				Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(BeTrue())
			}

			// Then even the right password is refused while locked
			_, err := env.login("bob", "Secret123")
			Expect(errors.Is(err, internal.ErrAccountLocked)).To(BeTrue())
			Expect(env.publisher.ofType(events.EventTypeAccountLocked)).To(HaveLen(1))

			env.clock.Advance(29 * time.Minute)
			_, err = env.login("bob", "Secret123")
			Expect(errors.Is(err, internal.ErrAccountLocked)).To(BeTrue())

			// When the lock expires
			env.clock.Advance(2 * time.Minute)
			_, err = env.login("bob", "Secret123")
			Expect(err).NotTo(HaveOccurred())

			u, _ := env.users.GetByUsername(ctx, "bob")
			Expect(u.FailedLoginAttempts).To(BeZero())
			Expect(u.LockedUntil).To(BeNil())

			Expect(testutil.GatherAndCompare(env.registry, strings.NewReader(`
# HELP auth_lockouts_total Accounts locked after repeated failures.
# TYPE auth_lockouts_total counter
auth_lockouts_total 1
`), "auth_lockouts_total")).To(Succeed())
		})

		It("resets the counter after a successful login", func() {
			for i := 0; i < 4; i++ {
				_, _ = env.login("bob", "Wrong1234")
			}
			_, err := env.login("bob", "Secret123")
			Expect(err).NotTo(HaveOccurred())

			_, err = env.login("bob", "Wrong1234")
			Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(BeTrue())
			u, _ := env.users.GetByUsername(ctx, "bob")
			Expect(u.FailedLoginAttempts).To(Equal(1))
		})

		It("starts counting from zero after a lock expired", func() {
			for i := 0; i < 5; i++ {
				_, _ = env.login("bob", "Wrong1234")
			}
			env.clock.Advance(31 * time.Minute)

			_, err := env.login("bob", "Wrong1234")
			Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(BeTrue())

			u, _ := env.users.GetByUsername(ctx, "bob")
			Expect(u.FailedLoginAttempts).To(Equal(1))
		})

		It("never loses a failure to concurrent attempts", func() {
			const attempts = 24
			env.lockout = auth.LockoutPolicy{Threshold: 100, Duration: 30 * time.Minute}
			env.service = env.build(auth.NewPasswordHasher(auth.AlgorithmBcrypt, bcrypt.MinCost, fastArgon), nil)

			var wg sync.WaitGroup
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := env.login("bob", "Wrong1234")
					Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(BeTrue())
				}()
			}
			wg.Wait()

			u, _ := env.users.GetByUsername(ctx, "bob")
			Expect(u.FailedLoginAttempts).To(Equal(attempts))
			Expect(u.LockedUntil).To(BeNil())
		})
	})

	Describe("Refresh", func() {
		var tokens *auth.AuthTokens

		BeforeEach(func() {
			env.register("alice")
			var err error
			tokens, err = env.login("alice", "Secret123")
			Expect(err).NotTo(HaveOccurred())
		})

		It("rotates the refresh token and keeps the client details", func() {
			next, err := env.service.Refresh(ctx, tokens.RefreshToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.RefreshToken).NotTo(Equal(tokens.RefreshToken))

			_, err = env.service.Refresh(ctx, tokens.RefreshToken)
			Expect(errors.Is(err, internal.ErrInvalidRefreshToken)).To(BeTrue())

			u, _ := env.users.GetByUsername(ctx, "alice")
			sessions, err := env.service.Sessions(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].IPAddress).To(Equal("10.0.0.1"))
			Expect(sessions[0].UserAgent).To(Equal("curl/8"))
		})

		It("lets only one of two concurrent redemptions through", func() {
			results := make(chan error, 2)
			for i := 0; i < 2; i++ {
				go func() {
					_, err := env.service.Refresh(ctx, tokens.RefreshToken)
					results <- err
				}()
			}

			var successes, rejected int
			for i := 0; i < 2; i++ {
				err := <-results
				switch {
				case err == nil:
					successes++
				case errors.Is(err, internal.ErrInvalidRefreshToken):
					rejected++
				}
			}
			Expect(successes).To(Equal(1))
			Expect(rejected).To(Equal(1))
		})

		It("rejects unknown and expired tokens", func() {
			_, err := env.service.Refresh(ctx, "never-issued")
			Expect(errors.Is(err, internal.ErrInvalidRefreshToken)).To(BeTrue())

			env.clock.Advance(8 * 24 * time.Hour)
			_, err = env.service.Refresh(ctx, tokens.RefreshToken)
			Expect(errors.Is(err, internal.ErrInvalidRefreshToken)).To(BeTrue())
		})

		It("refuses to refresh for a deactivated user", func() {
			u, _ := env.users.GetByUsername(ctx, "alice")
			_, _ = env.users.SetActive(ctx, u.ID, false)

			_, err := env.service.Refresh(ctx, tokens.RefreshToken)
			Expect(errors.Is(err, internal.ErrUserInactive)).To(BeTrue())
		})

		It("makes a logged out token unusable and tolerates repeats", func() {
			Expect(env.service.Logout(ctx, tokens.RefreshToken)).To(Succeed())
			Expect(env.service.Logout(ctx, tokens.RefreshToken)).To(Succeed())

			_, err := env.service.Refresh(ctx, tokens.RefreshToken)
			Expect(errors.Is(err, internal.ErrInvalidRefreshToken)).To(BeTrue())
		})

		It("revokes every session on logout all", func() {
			second, err := env.login("alice", "Secret123")
			Expect(err).NotTo(HaveOccurred())
			u, _ := env.users.GetByUsername(ctx, "alice")

			n, err := env.service.LogoutAll(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			for _, t := range []string{tokens.RefreshToken, second.RefreshToken} {
				_, err := env.service.Refresh(ctx, t)
				Expect(errors.Is(err, internal.ErrInvalidRefreshToken)).To(BeTrue())
			}
		})

		It("revokes a single session by id for its owner only", func() {
			u, _ := env.users.GetByUsername(ctx, "alice")
			sessions, _ := env.service.Sessions(ctx, u.ID)
			Expect(sessions).To(HaveLen(1))

			err := env.service.RevokeSession(ctx, u.ID+1, sessions[0].ID)
			Expect(errors.Is(err, internal.ErrSessionNotFound)).To(BeTrue())

			Expect(env.service.RevokeSession(ctx, u.ID, sessions[0].ID)).To(Succeed())
			_, err = env.service.Refresh(ctx, tokens.RefreshToken)
			Expect(errors.Is(err, internal.ErrInvalidRefreshToken)).To(BeTrue())
		})
	})

	Describe("Authorize", func() {
		var (
			alice  *user.User
			viewer *rbac.Role
			read   *rbac.Permission
			write  *rbac.Permission
		)

		BeforeEach(func() {
			alice = env.register("alice")

			var err error
			read, err = env.rbac.CreatePermission(ctx, 0, rbac.CreatePermissionDTO{Resource: "anpr", Action: "read"})
			Expect(err).NotTo(HaveOccurred())
			write, err = env.rbac.CreatePermission(ctx, 0, rbac.CreatePermissionDTO{Resource: "anpr", Action: "write"})
			Expect(err).NotTo(HaveOccurred())
			viewer, err = env.rbac.CreateRole(ctx, 0, rbac.CreateRoleDTO{Name: "viewer", PermissionIDs: []int64{read.ID}})
			Expect(err).NotTo(HaveOccurred())
			Expect(env.rbac.AssignRole(ctx, 0, alice.ID, viewer.ID)).To(Succeed())
		})

		access := func() string {
			tokens, err := env.login("alice", "Secret123")
			Expect(err).NotTo(HaveOccurred())
			return tokens.AccessToken
		}

		It("goes from login through refresh to an authorized principal", func() {
			tokens, err := env.login("alice", "Secret123")
			Expect(err).NotTo(HaveOccurred())
			next, err := env.service.Refresh(ctx, tokens.RefreshToken)
			Expect(err).NotTo(HaveOccurred())

			principal, err := env.service.Authorize(ctx, next.AccessToken, auth.RequirePermission("anpr:read"))
			Expect(err).NotTo(HaveOccurred())
			Expect(principal.UserID).To(Equal(alice.ID))
			Expect(principal.Username).To(Equal("alice"))
		})

		It("sees permission changes on the next check", func() {
			token := access()

			_, err := env.service.Authorize(ctx, token, auth.RequirePermission("anpr:write"))
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
			Expect(err.Error()).NotTo(ContainSubstring("anpr:write"))

			Expect(env.rbac.GrantPermissions(ctx, 0, viewer.ID, []int64{write.ID})).To(Succeed())

			_, err = env.service.Authorize(ctx, token, auth.RequirePermission("anpr:write"))
			Expect(err).NotTo(HaveOccurred())

			Expect(env.rbac.UnassignRole(ctx, 0, alice.ID, viewer.ID)).To(Succeed())
			_, err = env.service.Authorize(ctx, token, auth.RequirePermission("anpr:read"))
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
		})

		It("checks roles", func() {
			token := access()

			_, err := env.service.Authorize(ctx, token, auth.RequireRole("viewer"))
			Expect(err).NotTo(HaveOccurred())
			_, err = env.service.Authorize(ctx, token, auth.RequireRole("admin"))
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
		})

		It("compares service access levels", func() {
			svc, err := env.rbac.CreateService(ctx, 0, rbac.CreateServiceDTO{Key: "anpr", Name: "ANPR"})
			Expect(err).NotTo(HaveOccurred())
			_, err = env.rbac.SetServiceAccess(ctx, 0, viewer.ID, svc.ID, "read")
			Expect(err).NotTo(HaveOccurred())
			token := access()

			_, err = env.service.Authorize(ctx, token, auth.RequireServiceAccess("anpr", rbac.AccessRead))
			Expect(err).NotTo(HaveOccurred())
			_, err = env.service.Authorize(ctx, token, auth.RequireServiceAccess("anpr", rbac.AccessManage))
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
			_, err = env.service.Authorize(ctx, token, auth.RequireServiceAccess("camera", rbac.AccessRead))
			Expect(errors.Is(err, internal.ErrForbidden)).To(BeTrue())
		})

		It("lets a superuser through every check", func() {
			Expect(env.db.Model(&userDatamodel.User{}).Where("id = ?", alice.ID).Update("is_superuser", true).Error).To(Succeed())
			token := access()

			principal, err := env.service.Authorize(ctx, token, auth.RequirePermission("system:admin"))
			Expect(err).NotTo(HaveOccurred())
			Expect(principal.IsSuperuser).To(BeTrue())
			_, err = env.service.Authorize(ctx, token, auth.RequireServiceAccess("anything", rbac.AccessManage))
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects bad, expired and orphaned tokens", func() {
			_, err := env.service.Authorize(ctx, "garbage", auth.Authenticated())
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())

			token := access()
			env.clock.Advance(16 * time.Minute)
			_, err = env.service.Authorize(ctx, token, auth.Authenticated())
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())

			orphan, _, err := auth.NewTokenCodec(testSigningKey, "traffic-auth", 15*time.Minute, env.clock.Now, discardLogger).Issue(9999)
			Expect(err).NotTo(HaveOccurred())
			_, err = env.service.Authorize(ctx, orphan, auth.Authenticated())
			Expect(errors.Is(err, internal.ErrInvalidToken)).To(BeTrue())
		})

		It("rejects deactivated users holding a valid token", func() {
			token := access()
			_, _ = env.users.SetActive(ctx, alice.ID, false)

			_, err := env.service.Authorize(ctx, token, auth.Authenticated())
			Expect(errors.Is(err, internal.ErrUserInactive)).To(BeTrue())
		})
	})

	Describe("ChangePassword", func() {
		var (
			alice  *user.User
			tokens *auth.AuthTokens
		)

		BeforeEach(func() {
			alice = env.register("alice")
			var err error
			tokens, err = env.login("alice", "Secret123")
			Expect(err).NotTo(HaveOccurred())
		})

		It("requires the current password", func() {
			err := env.service.ChangePassword(ctx, alice.ID, auth.ChangePasswordDTO{CurrentPassword: "Wrong1234", NewPassword: "Another123"})
			Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(BeTrue())
		})

		It("enforces strength on the new password", func() {
			err := env.service.ChangePassword(ctx, alice.ID, auth.ChangePasswordDTO{CurrentPassword: "Secret123", NewPassword: "weak"})
			Expect(errors.Is(err, internal.ErrWeakPassword)).To(BeTrue())
		})

		It("swaps the password and revokes every refresh token", func() {
			err := env.service.ChangePassword(ctx, alice.ID, auth.ChangePasswordDTO{CurrentPassword: "Secret123", NewPassword: "Another123"})
			Expect(err).NotTo(HaveOccurred())

			_, err = env.service.Refresh(ctx, tokens.RefreshToken)
			Expect(errors.Is(err, internal.ErrInvalidRefreshToken)).To(BeTrue())

			_, err = env.login("alice", "Secret123")
			Expect(errors.Is(err, internal.ErrInvalidCredentials)).To(BeTrue())
			_, err = env.login("alice", "Another123")
			Expect(err).NotTo(HaveOccurred())

			u, _ := env.users.GetByID(ctx, alice.ID)
			Expect(u.PasswordChangedAt).NotTo(BeNil())
		})
	})
})
