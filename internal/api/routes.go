package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/auth"
	"github.com/parcelmap/server/internal/config"
	"github.com/parcelmap/server/internal/gateway"
	"github.com/parcelmap/server/internal/logger"
	"github.com/parcelmap/server/internal/metrics"
	"github.com/parcelmap/server/internal/performance"
)

// Routes is the assembled HTTP surface of the server.
type Routes struct {
	Handler   http.Handler
	WebSocket *WebSocketHandlers
}

// SetupRoutes registers every route and wraps the mux in the global
// middleware chain.
func SetupRoutes(cfg *config.Config, backend *gateway.Client, profiler *performance.Profiler, log *zap.SugaredLogger) *Routes {
	log = logger.OrNop(log)
	limits := DefaultRateLimitConfig()
	mux := http.NewServeMux()

	ws := NewWebSocketHandlers(cfg, backend, profiler, log.Named(logger.ComponentWebSocket))
	jwtService := auth.NewJWTService(cfg)
	authMiddleware := auth.Middleware(jwtService, log)
	userRateLimit := UserRateLimitMiddleware(limits.UserLimit, limits.UserWindow, log)

	mux.HandleFunc("/health", healthHandler(ws.Hub()))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws", RateLimitMiddleware(limits.ConnectLimit, limits.ConnectWindow, log)(http.HandlerFunc(ws.HandleWebSocket)))

	geometryHandlers := NewGeometryHandlers(profiler, log)
	mux.Handle("/api/geometry/resolve", authMiddleware(userRateLimit(http.HandlerFunc(geometryHandlers.Resolve))))

	mux.Handle("/api/performance", authMiddleware(http.HandlerFunc(performanceHandler(profiler))))

	var handler http.Handler = mux
	handler = RateLimitMiddleware(limits.GlobalLimit, limits.GlobalWindow, log)(handler)
	handler = CORSMiddleware(cfg.Server.AllowedOrigins)(handler)
	handler = auth.SecurityHeadersMiddleware(cfg.Server.IsProduction())(handler)

	return &Routes{Handler: handler, WebSocket: ws}
}

func healthHandler(hub *WebSocketHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     "parcelmap-server",
			"connections": hub.Count(),
		})
	}
}

// performanceHandler serves the profiler report to admins.
func performanceHandler(profiler *performance.Profiler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		claims, ok := auth.GetClaims(r)
		if !ok || claims.Role != auth.RoleAdmin {
			respondWithError(w, http.StatusForbidden, "Admin role required")
			return
		}

		report, err := profiler.JSONReport()
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to build report")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(report)
	}
}
