package rbac_test

import (
	"context"
	"errors"
	"sync"

	"github.com/frahmantamala/traffic-auth/internal"
	rbacDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/rbac"
	userDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/user"
	"github.com/frahmantamala/traffic-auth/internal/core/events"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
	rbacPostgres "github.com/frahmantamala/traffic-auth/internal/rbac/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		if c, ok := e.(*events.RBACChangedEvent); ok {
			out = append(out, c.Action)
		}
	}
	return out
}

var _ = Describe("Manager", func() {
	var (
		db        *gorm.DB
		mgr       *rbac.Manager
		evaluator *rbac.Evaluator
		cache     *memoryCache
		publisher *recordingPublisher
		ctx       context.Context
		userID    int64
	)

	const actorID = int64(42)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		Expect(db.AutoMigrate(
			&userDatamodel.User{},
			&rbacDatamodel.Role{},
			&rbacDatamodel.Permission{},
			&rbacDatamodel.Service{},
			&rbacDatamodel.UserRole{},
			&rbacDatamodel.RolePermission{},
			&rbacDatamodel.RoleServiceAccess{},
		)).To(Succeed())

		repo := rbacPostgres.NewRBACRepository(db)
		cache = newMemoryCache()
		evaluator = rbac.NewEvaluator(repo, cache, discardLogger)
		publisher = &recordingPublisher{}
		mgr = rbac.NewManager(repo, evaluator, publisher, discardLogger)
		ctx = context.Background()

		u := &userDatamodel.User{Email: "alice@traffic.local", Username: "alice", PasswordHash: "x", IsActive: true}
		Expect(db.Create(u).Error).To(Succeed())
		userID = u.ID
	})

	Describe("roles", func() {
		It("creates a role with its initial permissions and emits an event", func() {
			// Given
			perm, err := mgr.CreatePermission(ctx, actorID, rbac.CreatePermissionDTO{Resource: "anpr", Action: "read"})
			Expect(err).NotTo(HaveOccurred())
			Expect(perm.Name).To(Equal("anpr:read"))

			// When
			role, err := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer", PermissionIDs: []int64{perm.ID}})

			// Then
			Expect(err).NotTo(HaveOccurred())
			Expect(role.IsActive).To(BeTrue())
			detail, err := mgr.GetRole(ctx, role.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Permissions).To(HaveLen(1))
			Expect(publisher.actions()).To(ContainElements("permission.created", "role.created"))
		})

		It("rejects an empty role name", func() {
			_, err := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "  "})
			Expect(errors.Is(err, internal.ErrValidationFailed)).To(BeTrue())
		})

		It("rejects unknown permission ids", func() {
			_, err := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer", PermissionIDs: []int64{999}})
			Expect(errors.Is(err, internal.ErrPermissionNotFound)).To(BeTrue())
		})

		It("keeps system roles from being renamed, deactivated or deleted", func() {
			// Given
			sys := &rbacDatamodel.Role{Name: "super_admin", IsSystem: true, IsActive: true}
			Expect(db.Create(sys).Error).To(Succeed())
			newName := "root"
			inactive := false
			description := "full access"

			// When / Then
			_, err := mgr.UpdateRole(ctx, actorID, sys.ID, rbac.UpdateRoleDTO{Name: &newName})
			Expect(errors.Is(err, internal.ErrSystemRoleProtected)).To(BeTrue())

			_, err = mgr.UpdateRole(ctx, actorID, sys.ID, rbac.UpdateRoleDTO{IsActive: &inactive})
			Expect(errors.Is(err, internal.ErrSystemRoleProtected)).To(BeTrue())

			err = mgr.DeleteRole(ctx, actorID, sys.ID)
			Expect(errors.Is(err, internal.ErrSystemRoleProtected)).To(BeTrue())

			updated, err := mgr.UpdateRole(ctx, actorID, sys.ID, rbac.UpdateRoleDTO{Description: &description})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Description).To(Equal("full access"))
		})

		It("reports missing roles as not found", func() {
			err := mgr.DeleteRole(ctx, actorID, 404)
			Expect(errors.Is(err, internal.ErrRoleNotFound)).To(BeTrue())

			_, err = mgr.GetRole(ctx, 404)
			Expect(errors.Is(err, internal.ErrRoleNotFound)).To(BeTrue())
		})

		It("maps a duplicate name to a conflict", func() {
			_, err := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer"})
			Expect(err).NotTo(HaveOccurred())
			_, err = mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer"})
			Expect(errors.Is(err, internal.ErrRoleExists)).To(BeTrue())
		})
	})

	Describe("permissions", func() {
		It("refuses to delete or rename a permission held by a role", func() {
			perm, _ := mgr.CreatePermission(ctx, actorID, rbac.CreatePermissionDTO{Resource: "camera", Action: "read"})
			_, err := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer", PermissionIDs: []int64{perm.ID}})
			Expect(err).NotTo(HaveOccurred())

			err = mgr.DeletePermission(ctx, actorID, perm.ID)
			Expect(errors.Is(err, internal.ErrPermissionInUse)).To(BeTrue())

			renamed := "camera:view"
			_, err = mgr.UpdatePermission(ctx, actorID, perm.ID, rbac.UpdatePermissionDTO{Name: &renamed})
			Expect(errors.Is(err, internal.ErrPermissionInUse)).To(BeTrue())

			desc := "view camera feeds"
			updated, err := mgr.UpdatePermission(ctx, actorID, perm.ID, rbac.UpdatePermissionDTO{Description: &desc})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Description).To(Equal(desc))
		})

		It("deletes a permission once no role holds it", func() {
			perm, _ := mgr.CreatePermission(ctx, actorID, rbac.CreatePermissionDTO{Resource: "camera", Action: "delete"})

			Expect(mgr.DeletePermission(ctx, actorID, perm.ID)).To(Succeed())
			err := mgr.DeletePermission(ctx, actorID, perm.ID)
			Expect(errors.Is(err, internal.ErrPermissionNotFound)).To(BeTrue())
		})
	})

	Describe("services and access", func() {
		It("validates the access level", func() {
			role, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "operator"})
			svc, err := mgr.CreateService(ctx, actorID, rbac.CreateServiceDTO{Key: "anpr", Name: "ANPR Service"})
			Expect(err).NotTo(HaveOccurred())

			_, err = mgr.SetServiceAccess(ctx, actorID, role.ID, svc.ID, "owner")
			Expect(errors.Is(err, internal.ErrInvalidAccess)).To(BeTrue())
		})

		It("yields the higher level when two roles grant the same service", func() {
			// Given
			reader, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "reader"})
			manager, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "manager"})
			svc, _ := mgr.CreateService(ctx, actorID, rbac.CreateServiceDTO{Key: "camera", Name: "Camera Service"})
			_, err := mgr.SetServiceAccess(ctx, actorID, reader.ID, svc.ID, "read")
			Expect(err).NotTo(HaveOccurred())
			_, err = mgr.SetServiceAccess(ctx, actorID, manager.ID, svc.ID, "manage")
			Expect(err).NotTo(HaveOccurred())

			// When
			Expect(mgr.AssignRole(ctx, actorID, userID, reader.ID)).To(Succeed())
			Expect(mgr.AssignRole(ctx, actorID, userID, manager.ID)).To(Succeed())

			// Then
			level, err := evaluator.ServiceAccess(ctx, rbac.Subject{UserID: userID}, "camera")
			Expect(err).NotTo(HaveOccurred())
			Expect(level).To(Equal(rbac.AccessManage))
		})

		It("blocks deleting a service that a role can reach", func() {
			role, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "operator"})
			svc, _ := mgr.CreateService(ctx, actorID, rbac.CreateServiceDTO{Key: "reporting", Name: "Reporting Service"})
			_, err := mgr.SetServiceAccess(ctx, actorID, role.ID, svc.ID, "read")
			Expect(err).NotTo(HaveOccurred())

			err = mgr.DeleteService(ctx, actorID, svc.ID)
			Expect(errors.Is(err, internal.ErrServiceInUse)).To(BeTrue())

			Expect(mgr.RemoveServiceAccess(ctx, actorID, role.ID, svc.ID)).To(Succeed())
			Expect(mgr.DeleteService(ctx, actorID, svc.ID)).To(Succeed())
		})

		It("resolves names for the seeder", func() {
			_, err := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer"})
			Expect(err).NotTo(HaveOccurred())
			_, err = mgr.CreateService(ctx, actorID, rbac.CreateServiceDTO{Key: "anpr", Name: "ANPR Service"})
			Expect(err).NotTo(HaveOccurred())

			access, err := mgr.SetServiceAccessByKey(ctx, 0, "viewer", "anpr", "read")
			Expect(err).NotTo(HaveOccurred())
			Expect(access.AccessLevel).To(Equal(rbac.AccessRead))

			_, err = mgr.SetServiceAccessByKey(ctx, 0, "ghost", "anpr", "read")
			Expect(errors.Is(err, internal.ErrRoleNotFound)).To(BeTrue())
		})
	})

	Describe("assignments", func() {
		It("changes live permissions and drops cached sets", func() {
			// Given
			perm, _ := mgr.CreatePermission(ctx, actorID, rbac.CreatePermissionDTO{Resource: "anpr", Action: "read"})
			role, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer", PermissionIDs: []int64{perm.ID}})
			subject := rbac.Subject{UserID: userID}

			ok, err := evaluator.HasPermission(ctx, subject, "anpr:read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			// When
			Expect(mgr.AssignRoleByName(ctx, actorID, userID, "viewer")).To(Succeed())

			// Then
			ok, err = evaluator.HasPermission(ctx, subject, "anpr:read")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			Expect(mgr.UnassignRole(ctx, actorID, userID, role.ID)).To(Succeed())
			ok, _ = evaluator.HasPermission(ctx, subject, "anpr:read")
			Expect(ok).To(BeFalse())
		})

		It("rejects unknown users", func() {
			role, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer"})
			err := mgr.AssignRole(ctx, actorID, userID+50, role.ID)
			Expect(errors.Is(err, internal.ErrUserNotFound)).To(BeTrue())
		})

		It("replaces a user's role set and keeps it intact on unknown roles", func() {
			perm, _ := mgr.CreatePermission(ctx, actorID, rbac.CreatePermissionDTO{Resource: "anpr", Action: "read"})
			viewer, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer", PermissionIDs: []int64{perm.ID}})
			auditor, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "auditor"})
			Expect(mgr.AssignRole(ctx, actorID, userID, viewer.ID)).To(Succeed())
			subject := rbac.Subject{UserID: userID}

			ok, _ := evaluator.HasPermission(ctx, subject, "anpr:read")
			Expect(ok).To(BeTrue())

			err := mgr.SetUserRoles(ctx, actorID, userID, []int64{auditor.ID, auditor.ID + 100})
			Expect(errors.Is(err, internal.ErrRoleNotFound)).To(BeTrue())
			ok, _ = evaluator.HasPermission(ctx, subject, "anpr:read")
			Expect(ok).To(BeTrue())

			Expect(mgr.SetUserRoles(ctx, actorID, userID, []int64{auditor.ID, auditor.ID})).To(Succeed())

			var links []rbacDatamodel.UserRole
			Expect(db.Where("user_id = ?", userID).Find(&links).Error).To(Succeed())
			Expect(links).To(HaveLen(1))
			Expect(links[0].RoleID).To(Equal(auditor.ID))

			ok, _ = evaluator.HasPermission(ctx, subject, "anpr:read")
			Expect(ok).To(BeFalse())
			Expect(publisher.actions()).To(ContainElement("user.roles_replaced"))

			err = mgr.SetUserRoles(ctx, actorID, userID+50, nil)
			Expect(errors.Is(err, internal.ErrUserNotFound)).To(BeTrue())
		})

		It("records who made the assignment", func() {
			role, _ := mgr.CreateRole(ctx, actorID, rbac.CreateRoleDTO{Name: "viewer"})
			Expect(mgr.AssignRole(ctx, actorID, userID, role.ID)).To(Succeed())

			var link rbacDatamodel.UserRole
			Expect(db.Where("user_id = ? AND role_id = ?", userID, role.ID).First(&link).Error).To(Succeed())
			Expect(link.AssignedBy).NotTo(BeNil())
			Expect(*link.AssignedBy).To(Equal(actorID))
		})
	})
})
