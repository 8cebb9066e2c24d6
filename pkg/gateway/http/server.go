// Package httpgateway serves the OMS command surface as a JSON API.
package httpgateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joripage/orderexec/pkg/logging"
	"github.com/joripage/orderexec/pkg/oms"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type Config struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Server struct {
	cfg    Config
	oms    oms.IOMS
	logger *logging.Logger
	srv    *http.Server
}

func NewServer(cfg Config, o oms.IOMS, logger *logging.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{cfg: cfg, oms: o, logger: logger}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestContext())

	r.POST("/orders", s.submitOrderHandler)
	r.GET("/orders", s.listOrdersHandler)
	r.GET("/orders/:id", s.getOrderHandler)
	r.DELETE("/orders/:id", s.cancelOrderHandler)

	r.POST("/strategies", s.submitStrategyHandler)
	r.GET("/strategies", s.listStrategiesHandler)
	r.GET("/strategies/:id", s.getStrategyHandler)
	r.POST("/strategies/:id/cancel", s.cancelStrategyHandler)
	r.POST("/strategies/:id/pause", s.pauseHandler)
	r.POST("/strategies/:id/resume", s.resumeHandler)

	r.GET("/anomalies", s.anomaliesHandler)
	r.GET("/balance", s.balanceHandler)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
	})
	return c.Handler(r)
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info(ctx, "http gateway listening", zap.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http gateway stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	return nil
}

// requestContext tags each request with a request id for the logs.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logging.WithLogger(c.Request.Context(), s.logger)
		if id := c.GetHeader("X-Request-ID"); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		} else {
			ctx = logging.NewRequestContext(ctx)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
