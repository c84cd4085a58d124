package middleware_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/transport/middleware"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Middleware Suite")
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func errorBody(rec *httptest.ResponseRecorder) map[string]interface{} {
	var body struct {
		Error map[string]interface{} `json:"error"`
	}
	ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
	return body.Error
}

var _ = Describe("RequestID", func() {
	var captured internal.ClientMeta

	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = internal.ClientMetaFromContext(r.Context())
	}))

	It("generates an id and resolves the connection address", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("User-Agent", "curl/8")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		Expect(captured.RequestID).NotTo(BeEmpty())
		Expect(rec.Header().Get(middleware.HeaderRequestID)).To(Equal(captured.RequestID))
		Expect(captured.IPAddress).To(Equal("192.0.2.10"))
		Expect(captured.UserAgent).To(Equal("curl/8"))
	})

	It("keeps a caller supplied id and the first forwarded hop", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.HeaderRequestID, "req-42")
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		Expect(captured.RequestID).To(Equal("req-42"))
		Expect(captured.IPAddress).To(Equal("203.0.113.7"))
	})

	It("ignores a malformed forwarded header", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("X-Forwarded-For", "not-an-ip")
		req.Header.Set("X-Real-IP", "198.51.100.2")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		Expect(captured.IPAddress).To(Equal("198.51.100.2"))
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("answers 500 without echoing the panic", func() {
		handler := middleware.RecoveryMiddleware(discard)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("db password is hunter2")
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).NotTo(ContainSubstring("hunter2"))
		Expect(errorBody(rec)).To(HaveKeyWithValue("code", string(internal.ErrCodeInternal)))
	})
})

var _ = Describe("LoggingMiddleware", func() {
	It("masks credentials in bodies and headers", func() {
		var buf bytes.Buffer
		lg := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

		var seen string
		handler := middleware.LoggingMiddleware(lg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			seen = string(b)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"eyJabc","token_type":"Bearer"}`))
		}))

		body := `{"username":"alice","password":"Secr3t!pass"}`
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer eyJheader")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		Expect(seen).To(Equal(body))
		out := buf.String()
		Expect(out).To(ContainSubstring("alice"))
		Expect(out).NotTo(ContainSubstring("Secr3t!pass"))
		Expect(out).NotTo(ContainSubstring("eyJabc"))
		Expect(out).NotTo(ContainSubstring("eyJheader"))
	})
})

var _ = Describe("RateLimiter", func() {
	It("rejects a client over its burst and keeps clients apart", func() {
		limiter := middleware.NewRateLimiter(1.0/60, 2, discard)
		handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		hit := func(addr string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			req.RemoteAddr = addr
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}

		Expect(hit("192.0.2.1:1").Code).To(Equal(http.StatusNoContent))
		Expect(hit("192.0.2.1:2").Code).To(Equal(http.StatusNoContent))

		rec := hit("192.0.2.1:3")
		Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
		Expect(rec.Header().Get("Retry-After")).NotTo(BeEmpty())
		Expect(errorBody(rec)).To(HaveKeyWithValue("code", string(internal.ErrCodeTooManyRequests)))

		Expect(hit("192.0.2.2:1").Code).To(Equal(http.StatusNoContent))
	})
})

var _ = Describe("HTTPMetrics", func() {
	It("labels requests with the matched route pattern", func() {
		reg := prometheus.NewRegistry()
		metrics := middleware.NewHTTPMetrics(reg)

		router := chi.NewRouter()
		router.Use(metrics.Instrument)
		router.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/1", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/2", nil))

		Expect(testutil.CollectAndCount(reg, "http_requests_total")).To(Equal(1))
		expected := `
# HELP http_requests_total Total number of HTTP requests.
# TYPE http_requests_total counter
http_requests_total{method="GET",route="/users/{id}",status="404"} 2
`
		Expect(testutil.GatherAndCompare(reg, strings.NewReader(expected), "http_requests_total")).To(Succeed())
	})
})

var _ = Describe("CORS", func() {
	handler := middleware.CORS("https://console.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	It("short circuits preflight requests", func() {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
		req.Header.Set("Origin", "https://console.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://console.example.com"))
	})

	It("does not reflect unknown origins", func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})
})
