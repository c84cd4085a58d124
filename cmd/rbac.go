package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/spf13/cobra"
)

var rbacIncludeInactive bool

var rbacCmd = &cobra.Command{
	Use:   "rbac",
	Short: "Inspect and change role grants",
	Long:  `Administrative RBAC commands. Changes go through the same service as the HTTP API and are audited.`,
}

var rbacRolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List roles with their permissions and service access",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
			return printRoles(ctx, app, cmd.OutOrStdout())
		})
	},
}

var rbacServicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List logical services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
			services, err := app.RBACManager.ListServices(ctx, rbacIncludeInactive)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKEY\tNAME\tSTATUS")
			for _, svc := range services {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", svc.ID, svc.Key, svc.Name, status(svc.IsActive))
			}
			return w.Flush()
		})
	},
}

var rbacAssignRoleCmd = &cobra.Command{
	Use:   "assign-role <username> <role>",
	Short: "Assign a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
			u, err := app.Users.GetByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if u == nil {
				return internal.ErrUserNotFound
			}
			if err := app.RBACManager.AssignRoleByName(ctx, 0, u.ID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Assigned role %s to %s\n", args[1], u.Username)
			return nil
		})
	},
}

var rbacServiceAccessCmd = &cobra.Command{
	Use:   "service-access <role> <service-key> <none|read|manage>",
	Short: "Set the access level of a role on a service",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
			link, err := app.RBACManager.SetServiceAccessByKey(ctx, 0, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated service access: role_id=%d service=%s access_level=%s\n",
				link.RoleID, link.ServiceKey, link.AccessLevel)
			return nil
		})
	},
}

func init() {
	rbacServicesCmd.Flags().BoolVar(&rbacIncludeInactive, "include-inactive", false, "include inactive services")

	rbacCmd.AddCommand(rbacRolesCmd)
	rbacCmd.AddCommand(rbacServicesCmd)
	rbacCmd.AddCommand(rbacAssignRoleCmd)
	rbacCmd.AddCommand(rbacServiceAccessCmd)
}

// withApplication runs fn against a fully wired application and waits for
// its audit events before closing.
func withApplication(ctx context.Context, fn func(ctx context.Context, app *application) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	app, err := buildApplication(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := fn(ctx, app); err != nil {
		var appErr *internal.AppError
		if errors.As(err, &appErr) {
			return fmt.Errorf("%s: %s", appErr.Code, appErr.GetDetailedMessage())
		}
		return err
	}
	return nil
}

func printRoles(ctx context.Context, app *application, out io.Writer) error {
	roles, err := app.RBACManager.ListRoles(ctx, true)
	if err != nil {
		return err
	}
	for _, role := range roles {
		detail, err := app.RBACManager.GetRole(ctx, role.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "[%d] %s (%s)\n", role.ID, role.Name, status(role.IsActive))

		perms := make([]string, 0, len(detail.Permissions))
		for _, p := range detail.Permissions {
			perms = append(perms, p.Name)
		}
		sort.Strings(perms)
		if len(perms) > 0 {
			fmt.Fprintf(out, "  permissions: %s\n", strings.Join(perms, ", "))
		}

		access := make([]string, 0, len(detail.ServiceAccess))
		for _, a := range detail.ServiceAccess {
			access = append(access, fmt.Sprintf("%s:%s", a.ServiceKey, a.AccessLevel))
		}
		if len(access) > 0 {
			fmt.Fprintf(out, "  services: %s\n", strings.Join(access, ", "))
		}
	}
	return nil
}

func status(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}
