package cmd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/traffic-auth/internal/auth"
	rbacDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/rbac"
	userDatamodel "github.com/frahmantamala/traffic-auth/internal/core/datamodel/user"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	seedWithAdmin    bool
	seedAdminEmail   string
	seedAdminPass    string
	seedWithServices bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed default permissions, roles, services and an optional admin account",
	Long:  `Seed is idempotent. Existing rows are kept and system role permissions are re-synced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := seedOptions{
			Services:      seedWithServices,
			Admin:         seedWithAdmin,
			AdminEmail:    seedAdminEmail,
			AdminPassword: seedAdminPass,
		}
		if opts.Admin && opts.AdminPassword == "" {
			var err error
			if opts.AdminPassword, err = randomPassword(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Generated admin password:", opts.AdminPassword)
		}

		return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
			return seedDatabase(ctx, app.Gorm, app.Hasher, opts, app.Evaluator, app.Logger)
		})
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedWithAdmin, "with-admin", false, "create the default super admin account")
	seedCmd.Flags().StringVar(&seedAdminEmail, "admin-email", "admin@traffic-system.local", "email of the default admin")
	seedCmd.Flags().StringVar(&seedAdminPass, "admin-password", "", "password of the default admin, generated when empty")
	seedCmd.Flags().BoolVar(&seedWithServices, "with-services", true, "seed the default logical services and their role access")
}

type seedOptions struct {
	Services      bool
	Admin         bool
	AdminEmail    string
	AdminPassword string
}

type seedPermission struct {
	Resource, Action, Description string
}

func (p seedPermission) name() string { return p.Resource + ":" + p.Action }

var defaultPermissions = []seedPermission{
	{"anpr", "read", "Read ANPR detections"},
	{"anpr", "write", "Create and update ANPR detections"},
	{"anpr", "delete", "Delete ANPR detections"},
	{"anpr", "manage", "Full ANPR management"},
	{"camera", "read", "View cameras"},
	{"camera", "write", "Manage cameras"},
	{"camera", "delete", "Delete cameras"},
	{"user", "read", "View users"},
	{"user", "write", "Create and update users"},
	{"user", "delete", "Delete users"},
	{"user", "manage", "Full user management"},
	{"role", "read", "View roles"},
	{"role", "write", "Manage roles"},
	{"role", "delete", "Delete roles"},
	{"report", "read", "View reports"},
	{"report", "generate", "Generate reports"},
	{"system", "admin", "System administration"},
}

type seedRole struct {
	Name        string
	Description string
	// Permissions nil means every seeded permission.
	Permissions []string
	Access      map[string]rbac.AccessLevel
}

var defaultRoles = []seedRole{
	{
		Name:        "super_admin",
		Description: "Super Administrator - Full system access",
		Access:      map[string]rbac.AccessLevel{"anpr": rbac.AccessManage, "camera": rbac.AccessManage, "reporting": rbac.AccessManage},
	},
	{
		Name:        "admin",
		Description: "Administrator - Manage users and configurations",
		Permissions: []string{
			"user:read", "user:write", "user:manage",
			"role:read", "role:write",
			"camera:read", "camera:write", "camera:delete",
			"anpr:read", "anpr:write", "anpr:manage",
			"report:read", "report:generate",
		},
		Access: map[string]rbac.AccessLevel{"anpr": rbac.AccessManage, "camera": rbac.AccessManage, "reporting": rbac.AccessManage},
	},
	{
		Name:        "operator",
		Description: "Operator - Manage ANPR data and view reports",
		Permissions: []string{"anpr:read", "anpr:write", "camera:read", "report:read", "report:generate"},
		Access:      map[string]rbac.AccessLevel{"anpr": rbac.AccessManage, "camera": rbac.AccessRead, "reporting": rbac.AccessRead},
	},
	{
		Name:        "viewer",
		Description: "Viewer - Read-only access",
		Permissions: []string{"anpr:read", "camera:read", "report:read"},
		Access:      map[string]rbac.AccessLevel{"anpr": rbac.AccessRead, "camera": rbac.AccessRead, "reporting": rbac.AccessRead},
	},
}

var defaultServices = []rbacDatamodel.Service{
	{Key: "anpr", Name: "ANPR Service", Description: "Automatic number plate recognition"},
	{Key: "camera", Name: "Camera Service", Description: "Camera management service"},
	{Key: "reporting", Name: "Reporting Service", Description: "Reporting and analytics"},
}

// seedDatabase writes the default RBAC catalogue in one transaction.
// cacheInvalidator drops cached permission sets once seeding committed.
type cacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// seedDatabase writes everything in one transaction, then invalidates cache
// when it is non-nil so re-synced system roles take effect at once.
func seedDatabase(ctx context.Context, db *gorm.DB, hasher *auth.PasswordHasher, opts seedOptions, cache cacheInvalidator, lg *slog.Logger) error {
	now := time.Now().UTC()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		permIDs := make(map[string]int64, len(defaultPermissions))
		for _, p := range defaultPermissions {
			row := rbacDatamodel.Permission{
				Name:        p.name(),
				Resource:    p.Resource,
				Action:      p.Action,
				Description: p.Description,
				IsActive:    true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Where("name = ?", row.Name).FirstOrCreate(&row).Error; err != nil {
				return fmt.Errorf("seed permission %s: %w", p.name(), err)
			}
			permIDs[row.Name] = row.ID
		}
		lg.Info("seeded permissions", "count", len(permIDs))

		serviceIDs := make(map[string]int64, len(defaultServices))
		if opts.Services {
			for _, svc := range defaultServices {
				row := svc
				row.IsActive = true
				row.CreatedAt, row.UpdatedAt = now, now
				if err := tx.Where(&rbacDatamodel.Service{Key: row.Key}).FirstOrCreate(&row).Error; err != nil {
					return fmt.Errorf("seed service %s: %w", svc.Key, err)
				}
				serviceIDs[row.Key] = row.ID
			}
			lg.Info("seeded services", "count", len(serviceIDs))
		}

		roleIDs := make(map[string]int64, len(defaultRoles))
		for _, r := range defaultRoles {
			row := rbacDatamodel.Role{
				Name:        r.Name,
				Description: r.Description,
				IsActive:    true,
				IsSystem:    true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Where("name = ?", r.Name).FirstOrCreate(&row).Error; err != nil {
				return fmt.Errorf("seed role %s: %w", r.Name, err)
			}
			roleIDs[r.Name] = row.ID

			if err := syncRolePermissions(tx, row.ID, r.Permissions, permIDs, now); err != nil {
				return fmt.Errorf("sync permissions of %s: %w", r.Name, err)
			}
			for key, level := range r.Access {
				serviceID, ok := serviceIDs[key]
				if !ok {
					continue
				}
				link := rbacDatamodel.RoleServiceAccess{
					RoleID:      row.ID,
					ServiceID:   serviceID,
					AccessLevel: string(level),
					IsActive:    true,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				err := tx.Where("role_id = ? AND service_id = ?", row.ID, serviceID).FirstOrCreate(&link).Error
				if err != nil {
					return fmt.Errorf("seed %s access to %s: %w", r.Name, key, err)
				}
			}
		}
		lg.Info("seeded roles", "count", len(roleIDs))

		if !opts.Admin {
			return nil
		}
		return seedAdmin(tx, hasher, opts, roleIDs["super_admin"], now, lg)
	})
	if err != nil {
		return err
	}

	if cache != nil {
		cache.Invalidate(ctx)
	}
	return nil
}

func syncRolePermissions(tx *gorm.DB, roleID int64, names []string, permIDs map[string]int64, now time.Time) error {
	if err := tx.Where("role_id = ?", roleID).Delete(&rbacDatamodel.RolePermission{}).Error; err != nil {
		return err
	}

	var links []rbacDatamodel.RolePermission
	if names == nil {
		for _, id := range permIDs {
			links = append(links, rbacDatamodel.RolePermission{RoleID: roleID, PermissionID: id, CreatedAt: now})
		}
	}
	for _, name := range names {
		id, ok := permIDs[name]
		if !ok {
			return fmt.Errorf("unknown permission %s", name)
		}
		links = append(links, rbacDatamodel.RolePermission{RoleID: roleID, PermissionID: id, CreatedAt: now})
	}
	if len(links) == 0 {
		return nil
	}
	return tx.Create(&links).Error
}

func seedAdmin(tx *gorm.DB, hasher *auth.PasswordHasher, opts seedOptions, roleID int64, now time.Time, lg *slog.Logger) error {
	var admin userDatamodel.User
	err := tx.Where("username = ?", "admin").First(&admin).Error
	switch {
	case err == nil:
		lg.Info("admin user already exists", "user_id", admin.ID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		hash, err := hasher.Hash(opts.AdminPassword)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		admin = userDatamodel.User{
			Email:             opts.AdminEmail,
			Username:          "admin",
			PasswordHash:      hash,
			FullName:          "System Administrator",
			IsActive:          true,
			IsVerified:        true,
			IsSuperuser:       true,
			PasswordChangedAt: &now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
		lg.Warn("created default admin user, change its password before production use", "email", opts.AdminEmail)
	default:
		return fmt.Errorf("lookup admin user: %w", err)
	}

	link := rbacDatamodel.UserRole{UserID: admin.ID, RoleID: roleID, CreatedAt: now}
	return tx.Where("user_id = ? AND role_id = ?", admin.ID, roleID).FirstOrCreate(&link).Error
}

func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf) + "!1a", nil
}
