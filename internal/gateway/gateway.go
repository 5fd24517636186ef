// Package gateway is the HTTP edge: it accepts file uploads, turns them
// into RPC calls over the broker, proxies account operations to the user
// service and answers job-status queries.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Caller is the blocking RPC boundary, satisfied by *broker.Client.
type Caller interface {
	Do(ctx context.Context, corrID string, payload []byte, timeout time.Duration) ([]byte, error)
}

// StatusStore tracks request lifecycle, satisfied by *store.Store. Nil
// disables the status endpoint.
type StatusStore interface {
	SetStatus(ctx context.Context, id, status string) error
	GetJob(ctx context.Context, id string) (map[string]string, error)
}

type Server struct {
	caller         Caller
	statuses       StatusStore
	userServiceURL string
	jwtSecret      []byte
	rpcTimeout     time.Duration
	httpClient     *http.Client
	logger         *zap.Logger
}

func New(caller Caller, statuses StatusStore, userServiceURL, jwtSecret string, rpcTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		caller:         caller,
		statuses:       statuses,
		userServiceURL: userServiceURL,
		jwtSecret:      []byte(jwtSecret),
		rpcTimeout:     rpcTimeout,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		logger:         logger,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/login", s.proxy("/api/token"))
	r.POST("/register", s.proxy("/api/users"))
	r.POST("/generate_otp", s.proxy("/api/users/generate_otp"))
	r.POST("/verify_otp", s.proxy("/api/users/verify_otp"))

	r.POST("/ocr", s.authRequired(), s.handleOCR)
	r.GET("/jobs/:id", s.handleJobStatus)

	return r
}

func (s *Server) handleJobStatus(c *gin.Context) {
	if s.statuses == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "status tracking disabled"})
		return
	}
	id := c.Param("id")
	job, err := s.statuses.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if len(job) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"detail": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}
