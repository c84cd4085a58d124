package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/traffic-auth/internal"
	"github.com/frahmantamala/traffic-auth/internal/audit"
	auditPostgres "github.com/frahmantamala/traffic-auth/internal/audit/postgres"
	"github.com/frahmantamala/traffic-auth/internal/auth"
	"github.com/frahmantamala/traffic-auth/internal/core/events"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
	rbacCache "github.com/frahmantamala/traffic-auth/internal/rbac/cache"
	rbacPostgres "github.com/frahmantamala/traffic-auth/internal/rbac/postgres"
	"github.com/frahmantamala/traffic-auth/internal/refreshtoken"
	refreshPostgres "github.com/frahmantamala/traffic-auth/internal/refreshtoken/postgres"
	"github.com/frahmantamala/traffic-auth/internal/user"
	userPostgres "github.com/frahmantamala/traffic-auth/internal/user/postgres"
	"github.com/frahmantamala/traffic-auth/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const driverName = "pgx"

// application holds every wired component. The server and the admin
// commands share it so both go through the same services.
type application struct {
	Config *internal.Config
	Logger *slog.Logger
	SQL    *sql.DB
	Gorm   *gorm.DB
	Redis  *redis.Client
	Bus    *events.EventBus

	Users     user.RepositoryAPI
	Ledger    *refreshtoken.Ledger
	Evaluator *rbac.Evaluator
	Hasher    *auth.PasswordHasher

	AuthService  *auth.Service
	UserService  *user.Service
	RBACManager  *rbac.Manager
	AuditService *audit.Service
}

// initDB opens one pgx pool and shares it between gorm and sqlx.
func initDB(cfg internal.DatabaseConfig) (*sql.DB, *gorm.DB, error) {
	sqlDB, err := sql.Open(driverName, cfg.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	return sqlDB, gormDB, nil
}

func newPasswordHasher(cfg internal.SecurityConfig) *auth.PasswordHasher {
	return auth.NewPasswordHasher(cfg.PasswordAlgorithm, cfg.BCryptCost, auth.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
	})
}

func buildApplication(ctx context.Context, cfg *internal.Config, reg prometheus.Registerer) (*application, error) {
	logger.Init(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
	lg := logger.LoggerWrapper()

	sqlDB, gormDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	app := &application{
		Config: cfg,
		Logger: lg,
		SQL:    sqlDB,
		Gorm:   gormDB,
		Bus:    events.NewEventBus(lg),
	}

	var permissionCache rbac.PermissionCache
	if cfg.Redis.Enabled {
		client, err := rbacCache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		app.Redis = client
		permissionCache = rbacCache.NewRedisPermissionCache(client, cfg.Redis.PermissionCacheTTL)
		lg.Info("permission cache enabled", "ttl", cfg.Redis.PermissionCacheTTL)
	}

	auditRepo := auditPostgres.NewAuditRepository(gormDB)
	audit.NewRecorder(auditRepo, lg).Subscribe(app.Bus)
	app.AuditService = audit.NewService(auditRepo)

	rbacRepo := rbacPostgres.NewRBACRepository(gormDB)
	app.Evaluator = rbac.NewEvaluator(rbacRepo, permissionCache, lg)
	app.RBACManager = rbac.NewManager(rbacRepo, app.Evaluator, app.Bus, lg)

	app.Users = userPostgres.NewUserRepository(gormDB)
	app.Ledger = refreshtoken.NewLedger(
		refreshPostgres.NewRefreshTokenRepository(sqlx.NewDb(sqlDB, driverName)),
		cfg.Security.RefreshTokenDuration,
		lg,
	)
	app.UserService = user.NewService(app.Users, app.Evaluator, app.Ledger, app.Bus, lg)

	app.Hasher = newPasswordHasher(cfg.Security)
	app.AuthService = auth.NewService(auth.Dependencies{
		Users:  app.Users,
		Hasher: app.Hasher,
		Tokens: auth.NewTokenCodec(
			cfg.Security.JWTSigningKey,
			cfg.Security.JWTIssuer,
			cfg.Security.AccessTokenDuration,
			time.Now,
			lg,
		),
		Ledger:     app.Ledger,
		Authorizer: app.Evaluator,
		Publisher:  app.Bus,
		Metrics:    auth.NewMetrics(reg),
		Logger:     lg,
		Now:        time.Now,
		Config: auth.Config{
			AccessTokenTTL:  cfg.Security.AccessTokenDuration,
			RefreshTokenTTL: cfg.Security.RefreshTokenDuration,
			Lockout: auth.LockoutPolicy{
				Threshold: cfg.Lockout.Threshold,
				Duration:  cfg.Lockout.Duration,
			},
		},
	})

	return app, nil
}

// Close waits for queued audit events before releasing connections.
func (a *application) Close() {
	a.Bus.Close()
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("redis close error", "error", err)
		}
	}
	if err := a.SQL.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}
