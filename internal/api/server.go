// Package api exposes the operator surface: system status, metrics, risk /
// circuit-breaker state, the audit log, and a live event stream. Mutating
// risk endpoints are JWT-guarded so every engage/disengage is attributable.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"execution-core/internal/dispatch"
	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/monitor"
	"execution-core/internal/persistence"
	"execution-core/internal/reconciliation"
	"execution-core/internal/risk"
	"execution-core/pkg/db"
)

// Server wires HTTP endpoints around the execution core.
type Server struct {
	Router     *gin.Engine
	Dispatcher *dispatch.Dispatcher
	RiskMon    *risk.Monitor
	Heartbeat  *monitor.Heartbeat
	Link       *gateway.Client
	Store      *db.Store
	Bus        *events.Bus
	JWTSecret  string

	// Optional: set before Start when the corresponding component runs.
	Recon *reconciliation.Service
	Audit *persistence.BatchAuditor

	log zerolog.Logger
}

// NewServer builds the router and registers all routes.
func NewServer(d *dispatch.Dispatcher, riskMon *risk.Monitor, hb *monitor.Heartbeat, link *gateway.Client, store *db.Store, bus *events.Bus, jwtSecret string, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		Router:     r,
		Dispatcher: d,
		RiskMon:    riskMon,
		Heartbeat:  hb,
		Link:       link,
		Store:      store,
		Bus:        bus,
		JWTSecret:  jwtSecret,
		log:        log.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/risk", s.getRisk)
		api.GET("/orders", s.getOrders)
		api.GET("/orders/ambiguous", s.getAmbiguousOrders)
		api.GET("/recon", s.getRecon)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/risk/engage", s.engageBreaker)
			protected.POST("/risk/disengage", s.disengageBreaker)
			protected.POST("/orders/:id/resolve", s.resolveOrder)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"dispatcher": s.Dispatcher.Status(),
		"link":       s.Link.State(),
		"heartbeat":  s.Heartbeat.Status(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	out := gin.H{"tracks": s.Dispatcher.Metrics()}
	if s.Audit != nil {
		out["audit"] = s.Audit.Metrics()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getRecon(c *gin.Context) {
	if s.Recon == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation not running"})
		return
	}
	c.JSON(http.StatusOK, s.Recon.LastReport())
}

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"breaker": s.RiskMon.Breaker().State(),
		"account": s.RiskMon.Snapshot(),
		"limits":  s.RiskMon.Limits(),
	})
}

func (s *Server) getOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := s.Store.OrderHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) getAmbiguousOrders(c *gin.Context) {
	records, err := s.Store.AmbiguousOrders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

type resolveRequest struct {
	Disposition string `json:"disposition" binding:"required"`
}

// resolveOrder settles one ambiguous order after manual inquiry, removing it
// from the backlog the reconciler counts against its halt bound.
func (s *Server) resolveOrder(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	orderID := c.Param("id")
	operator := c.GetString(operatorContextKey)
	err := s.Store.ResolveOrder(c.Request.Context(), orderID, operator, req.Disposition)
	switch {
	case errors.Is(err, db.ErrNoAmbiguousOrder):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		s.log.Info().Str("order_id", orderID).Str("operator", operator).
			Str("disposition", req.Disposition).Msg("ambiguous order resolved")
		c.JSON(http.StatusOK, gin.H{
			"order_id":    orderID,
			"resolved_by": operator,
			"disposition": req.Disposition,
		})
	}
}

type engageRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) engageBreaker(c *gin.Context) {
	var req engageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	operator := c.GetString(operatorContextKey)
	s.RiskMon.Breaker().Engage("manual: "+req.Reason, map[string]string{"operator": operator})
	c.JSON(http.StatusOK, s.RiskMon.Breaker().State())
}

func (s *Server) disengageBreaker(c *gin.Context) {
	operator := c.GetString(operatorContextKey)
	if err := s.RiskMon.Breaker().Disengage(operator); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	// Persistence rides the bus: the breaker publishes the transition and
	// the audit subscriber records it, same as automatic engagements.
	c.JSON(http.StatusOK, s.RiskMon.Breaker().State())
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
