package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/geometry"
	"github.com/parcelmap/server/internal/logger"
	"github.com/parcelmap/server/internal/metrics"
	"github.com/parcelmap/server/internal/overlap"
	"github.com/parcelmap/server/internal/performance"
)

// maxResolveBody caps resolve request bodies.
const maxResolveBody = 4 << 20

// ObstacleInput is an existing parcel sent with a resolve request.
type ObstacleInput struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name"`
	Geodata string `json:"geodata" validate:"required"`
}

// ResolveRequest asks for a non-overlapping version of a candidate polygon.
type ResolveRequest struct {
	Candidate string          `json:"candidate" validate:"required"`
	Obstacles []ObstacleInput `json:"obstacles" validate:"max=10000,dive"`
}

// ResolveResponse lists the obstacles the candidate overlaps and the fixed
// polygon. Fixed is null when nothing overlaps or no fix exists.
type ResolveResponse struct {
	Overlapping []overlap.Neighbor `json:"overlapping"`
	Fixed       *string            `json:"fixed"`
	Strategy    geometry.Strategy  `json:"strategy"`
}

// GeometryHandlers serves stateless geometry operations.
type GeometryHandlers struct {
	validate *validator.Validate
	profiler *performance.Profiler
	log      *zap.SugaredLogger
}

// NewGeometryHandlers creates the geometry handlers.
func NewGeometryHandlers(profiler *performance.Profiler, log *zap.SugaredLogger) *GeometryHandlers {
	return &GeometryHandlers{
		validate: validator.New(),
		profiler: profiler,
		log:      logger.OrNop(log),
	}
}

// Resolve handles POST /api/geometry/resolve.
func (h *GeometryHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResolveBody)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidate := geodata.WKTToRing(req.Candidate)
	if len(candidate) < 3 {
		respondWithError(w, http.StatusBadRequest, "Candidate is not a polygon")
		return
	}

	op := h.profiler.Start("api.resolve")
	resp := ResolveCandidate(candidate, req.Obstacles)
	op.End()

	h.log.Debugw("resolved candidate", "overlapping", len(resp.Overlapping), "strategy", resp.Strategy)
	respondWithJSON(w, http.StatusOK, resp)
}

// ResolveCandidate checks candidate against the obstacles and, when any of
// them overlap, computes a fixed polygon from the overlapping ones.
func ResolveCandidate(candidate geodata.Ring, obstacles []ObstacleInput) ResolveResponse {
	resp := ResolveResponse{Overlapping: []overlap.Neighbor{}, Strategy: geometry.StrategyNone}
	var rings []geodata.Ring
	for _, o := range obstacles {
		ring := geodata.WKTToRing(o.Geodata)
		if geometry.Overlaps(candidate, ring) {
			resp.Overlapping = append(resp.Overlapping, overlap.Neighbor{ID: o.ID, Name: o.Name})
			rings = append(rings, ring)
		}
	}

	if len(rings) == 0 {
		metrics.OverlapChecksTotal.WithLabelValues("clean").Inc()
		return resp
	}

	res := geometry.Resolve(candidate, rings)
	metrics.OverlapChecksTotal.WithLabelValues("overlap").Inc()
	metrics.ResolveStrategyTotal.WithLabelValues(string(res.Strategy)).Inc()

	resp.Strategy = res.Strategy
	if len(res.Ring) >= 3 {
		fixed := geodata.RingToWKT(res.Ring)
		resp.Fixed = &fixed
	}
	return resp
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}
