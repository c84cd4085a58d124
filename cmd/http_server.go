package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/traffic-auth/api"
	"github.com/frahmantamala/traffic-auth/internal/audit"
	"github.com/frahmantamala/traffic-auth/internal/auth"
	"github.com/frahmantamala/traffic-auth/internal/rbac"
	"github.com/frahmantamala/traffic-auth/internal/transport"
	"github.com/frahmantamala/traffic-auth/internal/transport/middleware"
	"github.com/frahmantamala/traffic-auth/internal/transport/rest"
	"github.com/frahmantamala/traffic-auth/internal/transport/swagger"
	"github.com/frahmantamala/traffic-auth/internal/user"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startHTTPServer(); err != nil {
			fmt.Fprintf(os.Stderr, "server: %v\n", err)
			os.Exit(1)
		}
	},
}

func startHTTPServer() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	app, err := buildApplication(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close()

	router, err := newRouter(ctx, app)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		app.Logger.Info("Starting HTTP server", "address", addr, "environment", cfg.Environment)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		app.Logger.Info("Received signal, shutting down...", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	app.Logger.Info("Server stopped")
	return nil
}

func newRouter(ctx context.Context, app *application) (http.Handler, error) {
	cfg := app.Config
	base := transport.NewBaseHandler(app.Logger)

	spec, err := loadOpenAPI(ctx, cfg.Server.OpenAPIPath, app.Logger)
	if err != nil {
		return nil, err
	}

	opts := rest.Options{
		Logger:         app.Logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		OpenAPI:        spec,
	}
	if cfg.RateLimit.Enabled {
		opts.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, app.Logger)
	}
	if cfg.Observability.Metrics.Enabled {
		opts.HTTPMetrics = middleware.NewHTTPMetrics(prometheus.DefaultRegisterer)
		opts.MetricsPath = cfg.Observability.Metrics.Path
		opts.MetricsHandler = promhttp.Handler()
	}

	return rest.NewRouter(rest.Handlers{
		Health: rest.NewHealthHandler(base, app.SQL, app.Redis),
		Auth:   auth.NewHandler(base, app.AuthService),
		User:   user.NewHandler(base, app.UserService),
		RBAC:   rbac.NewHandler(base, app.RBACManager),
		Audit:  audit.NewHandler(base, app.AuditService),
	}, opts), nil
}

// loadOpenAPI prefers a document on disk so it can be edited without a
// rebuild, and falls back to the embedded copy.
func loadOpenAPI(ctx context.Context, path string, lg *slog.Logger) ([]byte, error) {
	raw := api.OpenAPI
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read openapi document: %w", err)
		}
		raw = data
	}
	if _, err := swagger.Load(ctx, raw); err != nil {
		return nil, err
	}
	lg.Debug("openapi document loaded", "bytes", len(raw))
	return raw, nil
}
