// Command hub runs the collaboration hub: the room registry, its
// RoomActors, the admission service, and the HTTP/WebSocket surface. It
// loads env config, selects the Auth0 or mock token validator, builds the
// gin router, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/config"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/health"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/httpapi"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/registry"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/roomactor"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 clean, 1 fatal config, 2 store
// unreachable at startup.
func run() int {
	for _, path := range []string{".env", "../../.env", "../../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config: "+err.Error())
		return 1
	}
	if !cfg.SkipAuth && (cfg.AuthDomain == "" || cfg.AuthAudience == "") {
		fmt.Fprintln(os.Stderr, "config: AUTH0_DOMAIN and AUTH0_AUDIENCE must be set unless SKIP_AUTH=true")
		return 1
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		fmt.Fprintln(os.Stderr, "logging: "+err.Error())
		return 1
	}
	ctx := context.Background()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "collab-hub", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to init tracer", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	store, err := openStore(cfg.DocstoreURL)
	if err != nil {
		logging.Error(ctx, "docstore unreachable at startup", zap.Error(err))
		return 2
	}
	defer store.Close()

	var busSvc *bus.Service
	if cfg.RedisEnabled {
		busSvc, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "bus unreachable at startup", zap.Error(err))
			return 2
		}
		defer busSvc.Close()
	}

	validator := buildValidator(ctx, cfg)

	limiter, err := ratelimit.NewRateLimiter(cfg, busSvc.Client(), validator)
	if err != nil {
		logging.Error(ctx, "rate limiter config invalid", zap.Error(err))
		return 1
	}

	reg := registry.New(store, busSvc, roomactor.Config{
		DebouncePeriod:   cfg.DebouncePeriod,
		MaxStaleness:     cfg.MaxStaleness,
		IdleGracePeriod:  cfg.IdleGracePeriod,
		TypingTTL:        3 * time.Second,
		SaveRetryBudget:  5,
		SaveBackoffBase:  500 * time.Millisecond,
		SaveBackoffCap:   30 * time.Second,
		CommandQueueSize: 64,
	})
	admissionSvc := admission.NewService(store, validator, reg)
	healthHandler := health.NewHandler(busSvc, &storeHealthChecker{store: store})

	router := httpapi.NewRouter(httpapi.Deps{
		Store:           store,
		Admission:       admissionSvc,
		Registry:        reg,
		RateLimiter:     limiter,
		Health:          healthHandler,
		AllowOrigins:    auth.GetAllowedOriginsFromEnv("CORS_ORIGIN", strings.Split(cfg.CorsOrigin, ",")),
		CapacityDefault: cfg.CapacityDefault,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		logging.Info(ctx, "collab hub starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "http server forced shutdown", zap.Error(err))
	}
	reg.Shutdown()

	logging.Info(ctx, "shutdown complete")
	return 0
}

// openStore picks a Document Store implementation from DOCSTORE_URL: a
// "memory://" URL (single-node dev/test) uses docstore.MemoryStore, anything
// else is handed to docstore.NewPostgresStore.
func openStore(docstoreURL string) (docstore.Store, error) {
	if docstoreURL == "memory://" {
		return docstore.NewMemoryStore(), nil
	}
	return docstore.NewPostgresStore(docstoreURL)
}

// buildValidator selects Auth0-backed JWT validation or the development
// mock.
func buildValidator(ctx context.Context, cfg *config.Config) admission.TokenValidator {
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled via SKIP_AUTH; do not use in production")
		return &auth.MockValidator{}
	}
	validator, err := auth.NewValidator(ctx, cfg.AuthDomain, cfg.AuthAudience)
	if err != nil {
		logging.Error(ctx, "auth validator init failed, falling back to mock validator", zap.Error(err))
		return &auth.MockValidator{}
	}
	return validator
}

// storeHealthChecker adapts docstore.Store.Ping to health.DocstoreChecker
// without requiring a raw *sql.DB handle, since docstore.MemoryStore has
// none.
type storeHealthChecker struct {
	store docstore.Store
}

func (c *storeHealthChecker) Check(ctx context.Context) string {
	if err := c.store.Ping(); err != nil {
		logging.Error(ctx, "docstore health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
