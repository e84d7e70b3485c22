package api

import (
	"net/http"
	"time"

	"broker-core/internal/engine"
	"broker-core/internal/events"
	"broker-core/internal/reconciliation"
	"broker-core/pkg/brokers/common"
	"broker-core/pkg/calendar"
	"broker-core/pkg/credentials"
	"broker-core/pkg/db"
	"broker-core/pkg/lots"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the order engine.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	Engine   *engine.Engine
	Recon    *reconciliation.Service
	Calendar *calendar.Calendar
	Lots     *lots.Table
	Limiter  *common.RateLimiter
	Vault    *credentials.Store
	Queries  *db.Queries
	Metrics  http.Handler

	JWTSecret     string
	AdminUser     string
	AdminPassHash string

	Meta SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Broker  string
	Pairs   []string
	Version string
}

func NewServer(s *Server) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s.Router = r
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/brokers", s.getBrokers)
		api.GET("/calendar/session", s.getSession)
		api.GET("/calendar/status", s.getSession)
		api.GET("/calendar/holidays", s.getHolidays)
		api.GET("/limiter/stats", s.getLimiterStats)

		// Auth endpoints (no auth required)
		api.POST("/auth/login", s.login)

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/positions", s.getPositions)
			protected.GET("/orders", s.getOrders)
			protected.GET("/lots", s.getLotSizes)
			protected.GET("/reconcile", s.getLastReconcile)

			protected.POST("/trade/open", s.openPosition)
			protected.POST("/trade/close", s.closePosition)
			protected.POST("/reconcile", s.runReconcile)

			protected.POST("/calendar/holidays", s.addHoliday)
			protected.DELETE("/calendar/holidays/:date", s.removeHoliday)

			protected.GET("/credentials", s.listCredentials)
			protected.PUT("/credentials", s.putCredentials)
			protected.DELETE("/credentials/:broker", s.deleteCredentials)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
