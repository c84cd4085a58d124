package rbac

import (
	"context"
	"net/http"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/transport"
	"github.com/go-chi/chi"
)

type ManagerAPI interface {
	ListRoles(ctx context.Context, includeInactive bool) ([]*Role, error)
	GetRole(ctx context.Context, id int64) (*RoleDetail, error)
	CreateRole(ctx context.Context, actorID int64, dto CreateRoleDTO) (*Role, error)
	UpdateRole(ctx context.Context, actorID, id int64, dto UpdateRoleDTO) (*Role, error)
	DeleteRole(ctx context.Context, actorID, id int64) error
	GrantPermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error
	SetRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error
	RevokePermission(ctx context.Context, actorID, roleID, permissionID int64) error

	ListPermissions(ctx context.Context, includeInactive bool) ([]*Permission, error)
	CreatePermission(ctx context.Context, actorID int64, dto CreatePermissionDTO) (*Permission, error)
	UpdatePermission(ctx context.Context, actorID, id int64, dto UpdatePermissionDTO) (*Permission, error)
	DeletePermission(ctx context.Context, actorID, id int64) error

	ListServices(ctx context.Context, includeInactive bool) ([]*Service, error)
	CreateService(ctx context.Context, actorID int64, dto CreateServiceDTO) (*Service, error)
	UpdateService(ctx context.Context, actorID, id int64, dto UpdateServiceDTO) (*Service, error)
	DeleteService(ctx context.Context, actorID, id int64) error

	AssignRole(ctx context.Context, actorID, userID, roleID int64) error
	UnassignRole(ctx context.Context, actorID, userID, roleID int64) error
	SetUserRoles(ctx context.Context, actorID, userID int64, roleIDs []int64) error

	SetServiceAccess(ctx context.Context, actorID, roleID, serviceID int64, level string) (*ServiceAccess, error)
	RemoveServiceAccess(ctx context.Context, actorID, roleID, serviceID int64) error
}

// Guard returns middleware that admits only callers holding permission.
type Guard func(permission string) func(http.Handler) http.Handler

type Handler struct {
	*transport.BaseHandler
	Manager ManagerAPI
}

func NewHandler(baseHandler *transport.BaseHandler, manager ManagerAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Manager:     manager,
	}
}

// RegisterRoutes mounts the admin endpoints. Reads need role:read, writes
// role:write and deletes role:delete. User assignment needs user:manage.
func (h *Handler) RegisterRoutes(r chi.Router, guard Guard) {
	r.Route("/rbac", func(rr chi.Router) {
		rr.Group(func(g chi.Router) {
			g.Use(guard("role:read"))
			g.Get("/roles", h.ListRoles)
			g.Get("/roles/{id}", h.GetRole)
			g.Get("/permissions", h.ListPermissions)
			g.Get("/services", h.ListServices)
		})

		rr.Group(func(g chi.Router) {
			g.Use(guard("role:write"))
			g.Post("/roles", h.CreateRole)
			g.Patch("/roles/{id}", h.UpdateRole)
			g.Post("/roles/{id}/permissions", h.GrantPermissions)
			g.Put("/roles/{id}/permissions", h.SetRolePermissions)
			g.Delete("/roles/{id}/permissions/{permissionID}", h.RevokePermission)
			g.Put("/roles/{id}/services/{serviceID}", h.SetServiceAccess)
			g.Delete("/roles/{id}/services/{serviceID}", h.RemoveServiceAccess)
			g.Post("/permissions", h.CreatePermission)
			g.Patch("/permissions/{id}", h.UpdatePermission)
			g.Post("/services", h.CreateService)
			g.Patch("/services/{id}", h.UpdateService)
		})

		rr.Group(func(g chi.Router) {
			g.Use(guard("role:delete"))
			g.Delete("/roles/{id}", h.DeleteRole)
			g.Delete("/permissions/{id}", h.DeletePermission)
			g.Delete("/services/{id}", h.DeleteService)
		})

		rr.Group(func(g chi.Router) {
			g.Use(guard("user:manage"))
			g.Post("/users/{userID}/roles", h.AssignRole)
			g.Put("/users/{userID}/roles", h.SetUserRoles)
			g.Delete("/users/{userID}/roles/{id}", h.UnassignRole)
		})
	})
}

func actor(r *http.Request) int64 {
	id, _ := internal.UserIDFromContext(r.Context())
	return id
}

func includeInactive(r *http.Request) bool {
	return r.URL.Query().Get("include_inactive") == "true"
}

// ----------------- ROLES -----------------

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.Manager.ListRoles(r.Context(), includeInactive(r))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, RolesResponse{Roles: roles})
}

func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	role, err := h.Manager.GetRole(r.Context(), id)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, role)
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var dto CreateRoleDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	role, err := h.Manager.CreateRole(r.Context(), actor(r), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, role)
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	var dto UpdateRoleDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	role, err := h.Manager.UpdateRole(r.Context(), actor(r), id, dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, role)
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.Manager.DeleteRole(r.Context(), actor(r), id); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GrantPermissions(w http.ResponseWriter, r *http.Request) {
	h.rolePermissions(w, r, h.Manager.GrantPermissions)
}

func (h *Handler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.rolePermissions(w, r, h.Manager.SetRolePermissions)
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64, int64, []int64) error) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	var dto PermissionIDsDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := apply(r.Context(), actor(r), id, dto.PermissionIDs); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	permissionID, err := h.PathInt64(r, "permissionID")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.Manager.RevokePermission(r.Context(), actor(r), id, permissionID); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetServiceAccess(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	serviceID, err := h.PathInt64(r, "serviceID")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	var dto ServiceAccessDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	access, err := h.Manager.SetServiceAccess(r.Context(), actor(r), id, serviceID, dto.AccessLevel)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, access)
}

func (h *Handler) RemoveServiceAccess(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	serviceID, err := h.PathInt64(r, "serviceID")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.Manager.RemoveServiceAccess(r.Context(), actor(r), id, serviceID); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----------------- PERMISSIONS -----------------

func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.Manager.ListPermissions(r.Context(), includeInactive(r))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, PermissionsResponse{Permissions: perms})
}

func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var dto CreatePermissionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	perm, err := h.Manager.CreatePermission(r.Context(), actor(r), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, perm)
}

func (h *Handler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	var dto UpdatePermissionDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	perm, err := h.Manager.UpdatePermission(r.Context(), actor(r), id, dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, perm)
}

func (h *Handler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.Manager.DeletePermission(r.Context(), actor(r), id); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----------------- SERVICES -----------------

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Manager.ListServices(r.Context(), includeInactive(r))
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ServicesResponse{Services: services})
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var dto CreateServiceDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	svc, err := h.Manager.CreateService(r.Context(), actor(r), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, svc)
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	var dto UpdateServiceDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	svc, err := h.Manager.UpdateService(r.Context(), actor(r), id, dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, svc)
}

func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.Manager.DeleteService(r.Context(), actor(r), id); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----------------- USER ROLES -----------------

func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := h.PathInt64(r, "userID")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	var dto AssignRoleDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.Manager.AssignRole(r.Context(), actor(r), userID, dto.RoleID); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := h.PathInt64(r, "userID")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	var dto UserRolesDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.Manager.SetUserRoles(r.Context(), actor(r), userID, dto.RoleIDs); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnassignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := h.PathInt64(r, "userID")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	roleID, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := h.Manager.UnassignRole(r.Context(), actor(r), userID, roleID); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
