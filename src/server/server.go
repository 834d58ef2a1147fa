package server

import (
	"fmt"
	"time"

	"cashout-mirror/src/interfaces"
	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
	"cashout-mirror/src/push"
	"cashout-mirror/src/state"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

// MirrorStatus and TokenStatus expose the upstream side's health to the
// /api/health handler without coupling the server to those packages.
type MirrorStatus interface {
	Connected() bool
}

type TokenStatus interface {
	Active() bool
}

// -----------------------------------------------------------------------------

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Cache  *state.StateCache
	Hub    *Hub
	Push   *push.Service
	Store  interfaces.ISubscriptionStore
	Mirror MirrorStatus
	Tokens TokenStatus

	// OnInjectResult schedules the delayed authoritative stats resync
	// after a locally injected result. Wired by the relay service.
	OnInjectResult func()

	engine    *gin.Engine
	startedAt time.Time
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, cache *state.StateCache, hub *Hub, pushSvc *push.Service, store interfaces.ISubscriptionStore, log *logger.Logger) *APIServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config:    cfg,
		Logger:    log,
		Cache:     cache,
		Hub:       hub,
		Push:      pushSvc,
		Store:     store,
		engine:    gin.Default(),
		startedAt: time.Now(),
	}

	// Add CORS Middleware. The mirror is consumed from arbitrary origins,
	// so all are allowed.
	s.engine.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	// Snapshot endpoints
	s.engine.GET("/api/stats", s.getStats)
	s.engine.GET("/api/velas", s.getVelas)
	s.engine.GET("/api/online", s.getOnline)
	s.engine.GET("/api/ultimo-historico", s.getLastResult)
	s.engine.GET("/api/ultimo-resultado", s.getLastResult)
	s.engine.GET("/api/health", s.getHealth)

	// Live feed
	s.engine.GET("/api/stream", s.handleStream)
	s.engine.GET("/ws", s.handleWebSocket)

	// Injection
	s.engine.POST("/api/sinal", s.postSinal)
	s.engine.POST("/api/resultado", s.postResultado)
	s.engine.POST("/api/velas", s.postVelas)

	// Push
	s.engine.POST("/api/subscribe", s.postSubscribe)
	s.engine.POST("/api/subs/reset", s.postSubsReset)
	s.engine.POST("/api/push-broadcast", s.postPushBroadcast)
	s.engine.POST("/api/notification/click", s.postNotificationClick)
	s.engine.GET("/api/push/stats", s.getPushStats)
	s.engine.POST("/api/test/push-resultado", s.postTestPushResult)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)
	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------

// Engine exposes the router for handler tests.
func (s *APIServer) Engine() *gin.Engine {
	return s.engine
}
