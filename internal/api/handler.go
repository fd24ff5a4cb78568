// Package api serves a read-only view of the running session over HTTP
// and a websocket event stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"autotrade-core/internal/engine"
	"autotrade-core/internal/events"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logging"
)

// TradeHistory reads trades persisted by earlier sessions.
type TradeHistory interface {
	ListTradesByDay(ctx context.Context, day time.Time) ([]db.Trade, error)
}

// Options configure a Server.
type Options struct {
	Session     engine.Service
	Bus         *events.Bus
	History     TradeHistory
	TokenSecret string  // empty disables bearer auth
	RateLimit   float64 // requests per second per IP
	Logger      *zap.Logger
}

// Server wires HTTP endpoints around the session and the event bus.
type Server struct {
	Router   *gin.Engine
	session  engine.Service
	bus      *events.Bus
	history  TradeHistory
	limiters *ipLimiters
	log      *zap.Logger
	http     *http.Server
}

func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	log := logging.OrNop(opts.Logger).Named("api")
	rps := opts.RateLimit
	if rps <= 0 {
		rps = 20
	}

	s := &Server{
		Router:   gin.New(),
		session:  opts.Session,
		bus:      opts.Bus,
		history:  opts.History,
		limiters: newIPLimiters(rps, int(rps)*2+1),
		log:      log,
	}

	// Middleware stack (order matters!)
	s.Router.Use(gin.Recovery())
	s.Router.Use(RequestIDMiddleware())
	s.Router.Use(RequestLogger(log))
	s.Router.Use(RateLimitMiddleware(s.limiters, log))
	s.Router.Use(CORSMiddleware())

	s.routes(opts.TokenSecret)
	return s
}

func (s *Server) routes(secret string) {
	s.Router.GET("/health", s.health)

	protected := s.Router.Group("")
	protected.Use(AuthMiddleware(secret))
	{
		protected.GET("/ws", s.websocket)
		api := protected.Group("/api")
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/profit/daily", s.getDailyProfit)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.limiters.reset()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()
	s.log.Info("status API listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
