// Package rest wires the data layer's HTTP surface: webhook intake,
// the sync dump for peers, health, metrics, and the WebSocket upgrade.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"udl/interfaces/http/rest/handlers"
	"udl/interfaces/http/rest/middleware"
	ws "udl/interfaces/websocket"
	"udl/pkg/observability"
)

// Router creates and configures the HTTP router
type Router struct {
	webhooks   *handlers.WebhookHandler
	sync       *handlers.SyncHandler
	wsServer   *ws.Server
	metrics    *observability.Metrics
	logger     *zap.Logger
	enableCORS bool
}

// NewRouter creates a new router instance
func NewRouter(
	webhooks *handlers.WebhookHandler,
	sync *handlers.SyncHandler,
	wsServer *ws.Server,
	metrics *observability.Metrics,
	logger *zap.Logger,
	enableCORS bool,
) *Router {
	return &Router{
		webhooks:   webhooks,
		sync:       sync,
		wsServer:   wsServer,
		metrics:    metrics,
		logger:     logger,
		enableCORS: enableCORS,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(rt.metrics))

	if rt.enableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/_sync", rt.sync.Dump)
	router.Handle("/metrics", rt.metrics.Handler())

	// Wildcard so percent-encoded scoped plugin names reach the handler
	// without chi decoding the embedded slash first.
	router.Post("/_webhooks/*", rt.webhooks.Receive)

	router.Get("/ws", rt.wsServer.HandleWebSocket)

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
