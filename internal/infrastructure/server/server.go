package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/telesim/internal/timing"
)

// Config holds status server settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	RateLimit   float64
	Development bool
	// MaxConns caps concurrent connections; 0 means 64.
	MaxConns int
	// StreamInterval is the period of /ws status messages; 0 means 1s.
	StreamInterval time.Duration
}

// RunInfo identifies the run being served.
type RunInfo struct {
	RunID     string `json:"run_id"`
	WorldRank int    `json:"world_rank"`
	WorldSize int    `json:"world_size"`
	NGroups   int    `json:"groups"`
}

// Server exposes the state of a running pipeline over HTTP.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *logging.Logger
	timers  *timing.GlobalTimers
	metrics *monitoring.Metrics
	info    RunInfo
	phase   atomic.Value
	started time.Time

	maxConns int
	interval time.Duration
	upgrader websocket.Upgrader
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a status server. It does not listen until Start.
func New(cfg Config, info RunInfo, timers *timing.GlobalTimers, metrics *monitoring.Metrics, logger *logging.Logger) *Server {
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	cors := DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		cors.AllowOrigins = cfg.CORSOrigins
	}
	router.Use(CORS(cors))
	if cfg.RateLimit > 0 {
		router.Use(RateLimit(cfg.RateLimit, int(cfg.RateLimit)*2))
	}

	s := &Server{
		router:  router,
		logger:  logger.Named("status"),
		timers:  timers,
		metrics: metrics,
		info:    info,
		started: time.Now(),

		maxConns: cfg.MaxConns,
		interval: cfg.StreamInterval,
		done:     make(chan struct{}),
	}
	if s.maxConns <= 0 {
		s.maxConns = 64
	}
	if s.interval <= 0 {
		s.interval = time.Second
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: originChecker(cors.AllowOrigins)}
	s.phase.Store("starting")

	router.GET("/health", s.health)
	router.GET("/timers", s.listTimers)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", s.stream)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// SetPhase records the current stage of the run.
func (s *Server) SetPhase(phase string) {
	s.phase.Store(phase)
}

// Phase returns the current stage of the run.
func (s *Server) Phase() string {
	return s.phase.Load().(string)
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return "", err
	}
	ln = netutil.LimitListener(ln, s.maxConns)
	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", zap.Error(err))
		}
	}()
	return ln.Addr().String(), nil
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"phase":          s.Phase(),
		"run":            s.info,
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Server) listTimers(c *gin.Context) {
	if s.timers == nil {
		c.JSON(http.StatusOK, gin.H{"timers": []timing.Stat{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timers":  s.timers.Snapshot(),
		"running": s.timers.Running(),
	})
}

// StatusMessage is pushed to /ws subscribers.
type StatusMessage struct {
	Type      string        `json:"type"`
	Phase     string        `json:"phase"`
	Run       RunInfo       `json:"run"`
	Timers    []timing.Stat `json:"timers"`
	Running   []string      `json:"running"`
	Timestamp int64         `json:"timestamp"`
}

func (s *Server) status() StatusMessage {
	msg := StatusMessage{
		Type:      "status",
		Phase:     s.Phase(),
		Run:       s.info,
		Timers:    []timing.Stat{},
		Running:   []string{},
		Timestamp: time.Now().Unix(),
	}
	if s.timers != nil {
		msg.Timers = s.timers.Snapshot()
		msg.Running = s.timers.Running()
	}
	return msg
}

// stream pushes a StatusMessage every interval until the client leaves or
// the server closes.
func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	left := make(chan struct{})
	go func() {
		defer close(left)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := conn.WriteJSON(s.status()); err != nil {
			return
		}
		select {
		case <-left:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
