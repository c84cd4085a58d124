package auth

import (
	"context"
	"net/http"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/transport"
	"github.com/go-chi/chi"
)

type principalKey struct{}

// ContextWithPrincipal is used by Require after a successful Authorize.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	return internal.ContextWithUserID(ctx, p.UserID)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, svc ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     svc,
	}
}

// RegisterRoutes mounts /auth. limit wraps the credential endpoints and may
// be nil.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Route("/auth", func(ar chi.Router) {
		ar.Group(func(g chi.Router) {
			if limit != nil {
				g.Use(limit)
			}
			g.Post("/register", h.Register)
			g.Post("/login", h.Login)
		})
		ar.Post("/refresh", h.Refresh)
		ar.Post("/logout", h.Logout)

		ar.Group(func(g chi.Router) {
			g.Use(h.Require(Authenticated()))
			g.Post("/logout-all", h.LogoutAll)
			g.Post("/change-password", h.ChangePassword)
			g.Get("/sessions", h.Sessions)
			g.Delete("/sessions/{sessionID}", h.RevokeSession)
		})
	})
}

// Require authorizes the bearer token against req and stores the resolved
// principal on the request context.
func (h *Handler) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := h.ExtractTokenFromHeader(r)
			if token == "" {
				h.WriteAppError(w, internal.ErrInvalidToken)
				return
			}

			principal, err := h.Service.Authorize(r.Context(), token, req)
			if err != nil {
				h.WriteAppError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// Guard adapts Require to permission-only guards used by other route groups.
func (h *Handler) Guard(permission string) func(http.Handler) http.Handler {
	return h.Require(RequirePermission(permission))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var dto RegisterDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	u, err := h.Service.Register(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	meta := internal.ClientMetaFromContext(r.Context())
	dto.IPAddress = meta.IPAddress
	dto.UserAgent = meta.UserAgent

	tokens, err := h.Service.Login(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	tokens, err := h.Service.Refresh(r.Context(), dto.RefreshToken)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	if err := h.Service.Logout(r.Context(), dto.RefreshToken); err != nil {
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	n, err := h.Service.LogoutAll(r.Context(), principal.UserID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, LogoutAllResponse{Revoked: n})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var dto ChangePasswordDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	if err := h.Service.ChangePassword(r.Context(), principal.UserID, dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	sessions, err := h.Service.Sessions(r.Context(), principal.UserID)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	if err := h.Service.RevokeSession(r.Context(), principal.UserID, chi.URLParam(r, "sessionID")); err != nil {
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
