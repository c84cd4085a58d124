package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/transport"
	"github.com/go-chi/chi"
)

// Service reads and prunes the audit trail.
type Service struct {
	repo RepositoryAPI
}

func NewService(repo RepositoryAPI) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	rows, err := s.repo.List(ctx, filter.normalized())
	if err != nil {
		return nil, internal.ErrStoreUnavailable.WithCause(err)
	}
	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, FromDataModel(row))
	}
	return entries, nil
}

// Prune deletes entries older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteBefore(ctx, time.Now().Add(-retention))
}

type Handler struct {
	*transport.BaseHandler
	Service *Service
}

func NewHandler(baseHandler *transport.BaseHandler, service *Service) *Handler {
	return &Handler{BaseHandler: baseHandler, Service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router, guard func(permission string) func(http.Handler) http.Handler) {
	r.With(guard("system:admin")).Get("/audit/events", h.List)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	entries, err := h.Service.List(r.Context(), filter)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{Action: q.Get("action")}

	if raw := q.Get("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, internal.NewValidationFieldError("actor_id", "actor_id must be numeric", internal.ErrCodeValidationFailed)
		}
		filter.ActorID = id
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, internal.NewValidationFieldError("since", "since must be RFC3339", internal.ErrCodeValidationFailed)
		}
		filter.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, internal.NewValidationFieldError("limit", "limit must be numeric", internal.ErrCodeValidationFailed)
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filter, internal.NewValidationFieldError("offset", "offset must be numeric", internal.ErrCodeValidationFailed)
		}
		filter.Offset = offset
	}
	return filter, nil
}
