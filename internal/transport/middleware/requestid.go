package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/pkg/logger"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	headerTraceID   = "X-Trace-ID"
)

// RequestID assigns a request id, resolves the client address and stores both
// as internal.ClientMeta so refresh tokens and audit events can record them.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = r.Header.Get(headerTraceID)
		}
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.NewString()
		}

		meta := internal.ClientMeta{
			IPAddress: ClientIP(r),
			UserAgent: truncate(r.UserAgent(), 512),
			RequestID: reqID,
		}

		ctx := internal.ContextWithClientMeta(r.Context(), meta)
		ctx = logger.With(ctx, "request_id", reqID)

		w.Header().Set(HeaderRequestID, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(real) != nil {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
