package http

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/gateway"
)

// Server is the Gateway Front's HTTP surface, a thin gin.Engine wrapper
// around gateway.Service.
type Server struct {
	addr string
	r    *gin.Engine
	svc  *gateway.Service
}

func NewServer(addr string, svc *gateway.Service) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{addr: addr, r: r, svc: svc}
	s.routes()
	return s
}

func (s *Server) Run() error {
	addr := s.addr
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("tacedge-gateway listening on %s", addr)
	return s.r.Run(addr)
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) routes() {
	s.r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	h := newHandler(s.svc)

	v1 := s.r.Group("/api/v1")
	{
		v1.POST("/auth/token", h.handleIssueToken)

		authed := v1.Group("")
		authed.Use(AuthMiddleware(s.svc))
		{
			authed.POST("/messages", h.handleSubmitMessage)
			authed.GET("/messages/:id", h.handleGetStatus)
			authed.GET("/messages/:id/content", h.handleGetContent)
			authed.POST("/messages/:id/ack", h.handleAcknowledge)
			authed.GET("/nodes", h.handleListNodes)
			authed.GET("/queue/status", h.handleQueueStatus)
			authed.GET("/audit/events", h.handleQueryAudit)
		}
	}
}
