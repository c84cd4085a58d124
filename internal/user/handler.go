package user

import (
	"context"
	"net/http"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/transport"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	Profile(ctx context.Context, id int64) (*Profile, error)
	UpdateProfile(ctx context.Context, id int64, dto UpdateProfileDTO) (*User, error)
	SetActive(ctx context.Context, actorID, id int64, active bool) error
}

type Guard func(permission string) func(http.Handler) http.Handler

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// RegisterRoutes mounts /users. authenticated must resolve the caller and
// store its id with internal.ContextWithUserID.
func (h *Handler) RegisterRoutes(r chi.Router, authenticated func(http.Handler) http.Handler, guard Guard) {
	r.Route("/users", func(ur chi.Router) {
		ur.Group(func(g chi.Router) {
			g.Use(authenticated)
			g.Get("/me", h.Me)
			g.Patch("/me", h.UpdateMe)
		})
		ur.With(guard("user:read")).Get("/{id}", h.Get)
		ur.With(guard("user:manage")).Patch("/{id}", h.Update)
		ur.With(guard("user:manage")).Patch("/{id}/status", h.SetStatus)
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := internal.UserIDFromContext(r.Context())

	profile, err := h.Service.Profile(r.Context(), id)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	id, _ := internal.UserIDFromContext(r.Context())

	var dto UpdateProfileDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	u, err := h.Service.UpdateProfile(r.Context(), id, dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	profile, err := h.Service.Profile(r.Context(), id)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, profile)
}

// Update edits another user's profile fields on behalf of an administrator.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	var dto UpdateProfileDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	u, err := h.Service.UpdateProfile(r.Context(), id, dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	var dto SetStatusDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, err)
		return
	}

	actorID, _ := internal.UserIDFromContext(r.Context())
	if err := h.Service.SetActive(r.Context(), actorID, id, *dto.IsActive); err != nil {
		h.WriteAppError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
