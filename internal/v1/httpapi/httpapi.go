// Package httpapi wires the HTTP surface the Hub itself exposes: room
// create/delete/join-code/ban and the two WebSocket upgrade endpoints.
// User accounts, token issuance, and the rest of the account control plane
// live in a separate service this package never implements.
package httpapi

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/admission"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/docstore"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/health"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/middleware"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/registry"
	"github.com/RoseWrightdev/collab-hub/backend/go/internal/v1/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles every collaborator the HTTP surface needs. One instance is
// shared by every request handler in the process.
type Deps struct {
	Store        docstore.Store
	Admission    *admission.Service
	Registry     *registry.Registry
	RateLimiter  *ratelimit.RateLimiter
	Health       *health.Handler
	AllowOrigins []string

	// CapacityDefault is the room capacity applied when a create request
	// omits one or asks for something outside [1,50]. Comes from the
	// CAPACITY_DEFAULT env var via config.ValidateEnv.
	CapacityDefault int
}

// NewRouter builds the gin engine serving every HTTP and WebSocket
// endpoint the Hub exposes. Middleware order matters: correlation ID, then
// rate limiting, then CORS, then routing.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	if deps.RateLimiter != nil {
		router.Use(deps.RateLimiter.GlobalMiddleware())
	}

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = deps.AllowOrigins
	corsCfg.AllowCredentials = true
	router.Use(cors.New(corsCfg))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", deps.Health.Liveness)
	router.GET("/health/ready", deps.Health.Readiness)

	rooms := router.Group("/rooms")
	if deps.RateLimiter != nil {
		rooms.Use(deps.RateLimiter.MiddlewareForEndpoint("rooms"))
	}
	h := &roomHandlers{deps: deps}
	rooms.POST("", h.createRoom)
	rooms.DELETE("/:roomKey", h.deleteRoom)
	rooms.POST("/:roomKey/join-code", h.rotateJoinCode)
	rooms.POST("/:roomKey/members/:principalId/ban", h.banMember)

	ws := &wsHandlers{deps: deps, upgrader: newUpgrader(deps.AllowOrigins)}
	router.GET("/doc", ws.serve)
	router.GET("/hub", ws.serve)

	return router
}

// newUpgrader builds a websocket.Upgrader that checks the request's Origin
// header against the configured allow-list. One upgrader is shared by both
// WebSocket routes.
func newUpgrader(allowOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients (tests, CLI tools)
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range allowOrigins {
				allowedURL, err := url.Parse(allowed)
				if err != nil {
					continue
				}
				if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
					return true
				}
			}
			return false
		},
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}
}

// wsHandlers serves both the /doc and /hub paths with one handler:
// wireproto disambiguates every frame by its JSON type tag (or, for the
// document channel, by binary-vs-text frame). The two routes stay
// registered separately so a deployment can still split them at the load
// balancer.
type wsHandlers struct {
	deps     Deps
	upgrader websocket.Upgrader
}

func (w *wsHandlers) serve(c *gin.Context) {
	roomKey := c.Query("room")
	if roomKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room query parameter is required"})
		return
	}
	if w.deps.RateLimiter != nil && !w.deps.RateLimiter.CheckWebSocket(c) {
		return
	}

	conn, err := w.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	metrics.IncConnection()
	defer metrics.DecConnection()

	sess := session.New(conn, session.Deps{
		Admission: w.deps.Admission,
		Registry:  w.deps.Registry,
	}, roomKey)
	sess.Run(c.Request.Context())
}
