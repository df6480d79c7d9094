package server

import (
	"context"
	"github.com/RyanW02/eventstamp/internal/config"
	"github.com/RyanW02/eventstamp/pkg/commitment"
	"github.com/RyanW02/eventstamp/pkg/events"
	"github.com/RyanW02/eventstamp/pkg/pipeline"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"net/http"
	"time"
)

// Committer is implemented by *pipeline.Pipeline.
type Committer interface {
	Commit(ctx context.Context, event events.EventContext) (*pipeline.Receipt, error)
	Retrieve(ctx context.Context, limit int) ([]commitment.Fields, error)
}

type WalletStatus interface {
	TestConnection(ctx context.Context) error
	Balance(ctx context.Context) (int64, error)
}

type Server struct {
	config   config.Config
	logger   *zap.Logger
	pipeline Committer
	wallet   WalletStatus
	now      func() time.Time

	router *gin.Engine
}

func NewServer(cfg config.Config, logger *zap.Logger, pipeline Committer, wallet WalletStatus) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		pipeline: pipeline,
		wallet:   wallet,
		now:      time.Now,

		router: gin.Default(),
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	_ = s.router.SetTrustedProxies(nil)

	// Browsers on public sites may call a server running on the local network
	s.router.Use(allowPrivateNetwork)
	s.router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:    []string{"*"},
		ExposeHeaders:   []string{"*"},
	}))

	s.router.POST("/log-event", s.HandleLogEvent)
	s.router.GET("/retrieve-logs", s.HandleRetrieveLogs)
	s.router.GET("/status", s.HandleStatus)

	if s.config.Server.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run() error {
	s.logger.Info("Starting server", zap.String("address", s.config.Server.Address))
	return s.router.Run(s.config.Server.Address)
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.Server.RequestTimeout.Duration()
	if timeout <= 0 {
		return context.WithCancel(c)
	}

	return context.WithTimeout(c, timeout)
}

func allowPrivateNetwork(c *gin.Context) {
	c.Header("Access-Control-Allow-Private-Network", "true")
	c.Next()
}
