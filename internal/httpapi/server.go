// Package httpapi exposes the service's HTTP surface: the statistics query
// endpoint, the synchronous batch interface, the position-change ingress,
// and operational endpoints (health, metrics, shard reseed).
package httpapi

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/geofleet/geostats-worker/internal/batch"
	"github.com/geofleet/geostats-worker/internal/bus"
	"github.com/geofleet/geostats-worker/internal/consumer"
	"github.com/geofleet/geostats-worker/internal/geo"
	"github.com/geofleet/geostats-worker/internal/observability"
	"github.com/geofleet/geostats-worker/internal/query"
	"github.com/geofleet/geostats-worker/internal/registry"
	"github.com/geofleet/geostats-worker/internal/stats"
)

// PositionRegistry is the optional snapshot source for batch queries and
// shard reseeds.
type PositionRegistry interface {
	LoadPositions(ctx context.Context) ([]registry.Entity, error)
	HealthCheck(ctx context.Context) error
}

// Server carries the handler dependencies.
type Server struct {
	serviceName string
	query       *query.Service
	agg         *batch.Aggregator
	bus         bus.Bus
	pool        *consumer.Pool
	reg         PositionRegistry // nil when no registry is configured
	metrics     *observability.Collector
	log         zerolog.Logger
}

// NewServer wires the HTTP handlers. reg may be nil.
func NewServer(serviceName string, q *query.Service, agg *batch.Aggregator, b bus.Bus, pool *consumer.Pool, reg PositionRegistry, metrics *observability.Collector, log zerolog.Logger) *Server {
	return &Server{
		serviceName: serviceName,
		query:       q,
		agg:         agg,
		bus:         b,
		pool:        pool,
		reg:         reg,
		metrics:     metrics,
		log:         log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	r.GET("/distances", s.handleDistances)
	r.GET("/distances/batch", s.handleBatchFromRegistry)
	r.POST("/distances/batch", s.handleBatchFromBody)

	r.POST("/positions", s.handlePositionChanged)
	r.POST("/shards/:id/reseed", s.handleReseed)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	if s.reg != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.reg.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": s.serviceName})
}

// handleDistances reports the current streaming aggregate statistics.
func (s *Server) handleDistances(c *gin.Context) {
	result, err := s.query.Current()
	if err != nil {
		if errors.Is(err, query.ErrPartialDataUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result.Count < 1 {
		c.JSON(http.StatusOK, gin.H{"error": "Not enough entities to provide distance statistics."})
		return
	}
	c.JSON(http.StatusOK, toStatisticsResponse(result.Statistics, result.Partial))
}

type pointRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p pointRequest) toPoint() (geo.Point, error) {
	if p.Latitude == nil || p.Longitude == nil {
		return geo.Point{}, errors.New("latitude and longitude are required")
	}
	return geo.NewPoint(*p.Latitude, *p.Longitude)
}

type batchRequest struct {
	Points []pointRequest `json:"points"`
}

// handleBatchFromBody computes pairwise statistics over points supplied in
// the request body. ?materialize=true additionally reports percentiles from
// the materialized distance set, subject to the configured pair ceiling.
func (s *Server) handleBatchFromBody(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	points := make([]geo.Point, 0, len(req.Points))
	for i, pr := range req.Points {
		p, err := pr.toPoint()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "point " + strconv.Itoa(i) + ": " + err.Error()})
			return
		}
		points = append(points, p)
	}

	s.respondBatch(c, points)
}

// handleBatchFromRegistry computes pairwise statistics over the registry's
// current position snapshot, the way the original application computed its
// report straight from storage.
func (s *Server) handleBatchFromRegistry(c *gin.Context) {
	if s.reg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no entity registry configured"})
		return
	}
	entities, err := s.reg.LoadPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	points := make([]geo.Point, 0, len(entities))
	for _, e := range entities {
		points = append(points, e.Position)
	}
	s.respondBatch(c, points)
}

func (s *Server) respondBatch(c *gin.Context, points []geo.Point) {
	if len(points) < 2 {
		c.JSON(http.StatusOK, gin.H{"error": "Not enough entities to provide distance statistics."})
		return
	}

	resp := toStatisticsResponse(s.agg.Aggregate(points), false)

	if c.Query("materialize") == "true" {
		distances, err := s.agg.PairwiseDistances(points)
		if err != nil {
			if errors.Is(err, batch.ErrResourceExhausted) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.Percentiles = map[string]float64{
			"p50": batch.Percentile(distances, 50),
			"p90": batch.Percentile(distances, 90),
			"p99": batch.Percentile(distances, 99),
		}
	}

	c.JSON(http.StatusOK, resp)
}

type positionChangedRequest struct {
	EntityID string        `json:"entity_id"`
	Previous *pointRequest `json:"previous"`
	Current  *pointRequest `json:"current"`
	Sequence uint64        `json:"sequence"`
}

// handlePositionChanged is the ingress for the external registry
// collaborator: it validates coordinates and publishes the event onto the
// bus. Invalid coordinates never reach an accumulator.
func (s *Server) handlePositionChanged(c *gin.Context) {
	var req positionChangedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EntityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_id is required"})
		return
	}
	if req.Current == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current position is required"})
		return
	}

	current, err := req.Current.toPoint()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "current: " + err.Error()})
		return
	}

	ev := bus.PositionChanged{
		EventID:  uuid.New().String(),
		EntityID: req.EntityID,
		Current:  current,
		Sequence: req.Sequence,
	}
	if req.Previous != nil {
		prev, err := req.Previous.toPoint()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "previous: " + err.Error()})
			return
		}
		ev.Previous = &prev
	}

	if err := s.bus.Publish(c.Request.Context(), ev); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "event_id": ev.EventID})
}

// handleReseed rebuilds one shard's accumulator from the registry snapshot.
func (s *Server) handleReseed(c *gin.Context) {
	if s.reg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no entity registry configured"})
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shard id"})
		return
	}
	entities, err := s.reg.LoadPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !s.pool.Reseed(id, entities) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown shard " + strconv.Itoa(id)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reseeded", "shard": id, "entities": len(entities)})
}

// statisticsResponse is the wire shape of a statistics snapshot. Undefined
// moments (NaN sentinels internally) are null on the wire.
type statisticsResponse struct {
	Count       int64              `json:"count"`
	Mean        *float64           `json:"mean"`
	Variance    *float64           `json:"variance"`
	StdDev      *float64           `json:"stddev"`
	Min         *float64           `json:"min"`
	Max         *float64           `json:"max"`
	Skewness    *float64           `json:"skewness,omitempty"`
	Kurtosis    *float64           `json:"kurtosis,omitempty"`
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
	Partial     bool               `json:"partial"`
}

func toStatisticsResponse(st stats.Statistics, partial bool) statisticsResponse {
	return statisticsResponse{
		Count:    st.Count,
		Mean:     finite(st.Mean),
		Variance: finite(st.Variance),
		StdDev:   finite(st.StdDev),
		Min:      finite(st.Min),
		Max:      finite(st.Max),
		Skewness: finite(st.Skewness),
		Kurtosis: finite(st.Kurtosis),
		Partial:  partial,
	}
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
