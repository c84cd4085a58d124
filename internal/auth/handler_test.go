package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/auth"
	"github.com/frahmantamala/traffic-auth/internal/transport"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handler", func() {
	var (
		env    *testEnv
		router chi.Router
	)

	BeforeEach(func() {
		env = newTestEnv()
		handler := auth.NewHandler(transport.NewBaseHandler(discardLogger), env.service)

		router = chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				meta := internal.ClientMeta{IPAddress: "192.0.2.10", UserAgent: r.UserAgent(), RequestID: "req-1"}
				next.ServeHTTP(w, r.WithContext(internal.ContextWithClientMeta(r.Context(), meta)))
			})
		})
		handler.RegisterRoutes(router, nil)
		router.With(handler.Guard("system:admin")).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	AfterEach(func() {
		env.close()
	})

	do := func(method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "ginkgo")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	errorCode := func(rec *httptest.ResponseRecorder) string {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body.Error.Code
	}

	login := func() auth.AuthTokens {
		rec := do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "Secret123"})
		Expect(rec.Code).To(Equal(http.StatusOK))
		var tokens auth.AuthTokens
		Expect(json.Unmarshal(rec.Body.Bytes(), &tokens)).To(Succeed())
		return tokens
	}

	It("registers without echoing the password", func() {
		rec := do(http.MethodPost, "/auth/register", "", map[string]string{
			"username": "alice", "email": "alice@traffic.local", "password": "Secret123",
		})
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(rec.Body.String()).NotTo(ContainSubstring("Secret123"))
		Expect(rec.Body.String()).NotTo(ContainSubstring("password"))

		rec = do(http.MethodPost, "/auth/register", "", map[string]string{
			"username": "alice", "email": "alice@traffic.local", "password": "Secret123",
		})
		Expect(rec.Code).To(Equal(http.StatusConflict))
		Expect(errorCode(rec)).To(Equal("DUPLICATE_USER"))
	})

	It("rejects unknown fields as a bad request", func() {
		rec := do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "x", "role": "admin"})
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("records the client address on the session", func() {
		env.register("alice")
		tokens := login()

		rec := do(http.MethodGet, "/auth/sessions", tokens.AccessToken, nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("192.0.2.10"))
		Expect(rec.Body.String()).NotTo(ContainSubstring(tokens.RefreshToken))
	})

	It("maps credential and lockout failures to 401 and 423", func() {
		env.register("alice")
		for i := 0; i < 5; i++ {
			rec := do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "Wrong1234"})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorCode(rec)).To(Equal("INVALID_CREDENTIALS"))
		}

		rec := do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "Secret123"})
		Expect(rec.Code).To(Equal(http.StatusLocked))
		Expect(errorCode(rec)).To(Equal("ACCOUNT_LOCKED"))
	})

	It("guards routes by bearer token and permission", func() {
		env.register("alice")
		tokens := login()

		rec := do(http.MethodPost, "/auth/logout-all", "", nil)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(errorCode(rec)).To(Equal("INVALID_TOKEN"))

		rec = do(http.MethodGet, "/admin", tokens.AccessToken, nil)
		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(rec.Body.String()).NotTo(ContainSubstring("system:admin"))

		rec = do(http.MethodPost, "/auth/logout-all", tokens.AccessToken, nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"revoked":1`))
	})

	It("refreshes and logs out", func() {
		env.register("alice")
		tokens := login()

		rec := do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
		Expect(rec.Code).To(Equal(http.StatusOK))
		var next auth.AuthTokens
		Expect(json.Unmarshal(rec.Body.Bytes(), &next)).To(Succeed())

		rec = do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": tokens.RefreshToken})
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(errorCode(rec)).To(Equal("INVALID_REFRESH_TOKEN"))

		rec = do(http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": next.RefreshToken})
		Expect(rec.Code).To(Equal(http.StatusNoContent))
	})

	It("changes the password for the caller", func() {
		env.register("alice")
		tokens := login()

		rec := do(http.MethodPost, "/auth/change-password", tokens.AccessToken, map[string]string{
			"current_password": "Secret123", "new_password": "Another123",
		})
		Expect(rec.Code).To(Equal(http.StatusNoContent))

		rec = do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "Another123"})
		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})
