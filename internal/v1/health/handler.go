package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/logging"
	"go.uber.org/zap"
)

// DocstoreChecker checks connectivity to the Document Store.
type DocstoreChecker interface {
	Check(ctx context.Context) string
}

// DefaultDocstoreChecker pings a *sql.DB.
type DefaultDocstoreChecker struct {
	DB *sql.DB
}

// Check verifies the Document Store connection with a PingContext.
func (c *DefaultDocstoreChecker) Check(ctx context.Context) string {
	if c.DB == nil {
		return "unhealthy"
	}
	if err := c.DB.PingContext(ctx); err != nil {
		logging.Error(ctx, "docstore health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

// Handler manages health check endpoints
type Handler struct {
	redisService    *bus.Service
	docstoreChecker DocstoreChecker
}

// NewHandler creates a new health check handler
func NewHandler(redisService *bus.Service, docstoreChecker DocstoreChecker) *Handler {
	return &Handler{
		redisService:    redisService,
		docstoreChecker: docstoreChecker,
	}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	docstoreStatus := h.checkDocstore(ctx)
	checks["docstore"] = docstoreStatus
	if docstoreStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkRedis verifies Redis connectivity using PING command
func (h *Handler) checkRedis(ctx context.Context) string {
	// If Redis is not enabled (single-instance mode), consider it healthy
	if h.redisService == nil {
		return "healthy"
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// checkDocstore verifies Document Store connectivity.
func (h *Handler) checkDocstore(ctx context.Context) string {
	if h.docstoreChecker == nil {
		return "unhealthy"
	}
	return h.docstoreChecker.Check(ctx)
}

// HealthCheckResponse is a generic health check response for backward compatibility
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
