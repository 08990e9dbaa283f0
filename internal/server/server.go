package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourorg/mianshi/internal/config"
	"github.com/yourorg/mianshi/internal/logging"
	"github.com/yourorg/mianshi/internal/session"
	"github.com/yourorg/mianshi/internal/settings"
	"github.com/yourorg/mianshi/internal/store"
)

const (
	clientCookie = "mianshi_client"
	clientHeader = "X-Mianshi-Client"
	clientKey    = "client_id"

	maxAudioBytes = 25 << 20
	// multipartOverhead is the slack allowed for boundaries and form fields
	// on top of the audio part itself.
	multipartOverhead = 1 << 20
)

// Deps are the shared backends of every client.
type Deps struct {
	History     store.HistoryStore
	Settings    settings.Backend
	Transcriber session.Transcriber
	Scorer      session.Scorer
	Bank        *session.QuestionBank
	Logger      *slog.Logger
}

// Server exposes the practice flow over HTTP. Each client, identified by a
// cookie, gets its own settings rows and its own Flow.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine

	maxAudio int64
	idle     time.Duration
	now      func() time.Time

	mu    sync.Mutex
	flows map[string]*clientFlow
}

type clientFlow struct {
	flow     *session.Flow
	settings settings.Store
	lastSeen time.Time
}

// New constructs a new Server with routes registered.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if deps.History == nil {
		return nil, errors.New("history store is nil")
	}
	if deps.Settings == nil {
		return nil, errors.New("settings backend is nil")
	}
	if deps.Transcriber == nil || deps.Scorer == nil {
		return nil, errors.New("transcriber and scorer are required")
	}
	if deps.Bank == nil {
		deps.Bank = session.NewQuestionBank(nil)
	}

	srv := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logging.OrDiscard(deps.Logger),
		flows:  make(map[string]*clientFlow),

		maxAudio: maxAudioBytes,
		idle:     cfg.Server.SessionIdle,
		now:      time.Now,
	}
	srv.engine = srv.newEngine()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}

func (s *Server) newEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	_ = engine.SetTrustedProxies(nil)
	engine.MaxMultipartMemory = maxAudioBytes

	origins := s.cfg.Server.CORSOrigins
	corsCfg := cors.Config{
		AllowMethods:  []string{"OPTIONS", "GET", "POST", "PUT", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", clientHeader},
		ExposeHeaders: []string{"Content-Length", clientHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
		corsCfg.AllowCredentials = true
	}
	engine.Use(cors.New(corsCfg))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	api := engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/models", s.withClient, s.handleModels)

	cfgGroup := api.Group("/settings", s.withClient)
	cfgGroup.GET("", s.handleGetSettings)
	cfgGroup.PUT("", s.handlePutSettings)
	cfgGroup.PUT("/template", s.handlePutTemplate)

	sess := api.Group("/session", s.withClient)
	sess.GET("", s.handleSession)
	sess.POST("/question", s.handleQuestion)
	sess.POST("/next", s.handleNext)
	sess.POST("/audio", s.handleAudio)
	sess.POST("/retranscribe", s.handleRetranscribe)
	sess.PUT("/answer", s.handleAnswer)
	sess.POST("/score", s.handleScore)
	sess.POST("/reset", s.handleReset)
	sess.POST("/discard", s.handleDiscard)

	hist := api.Group("/history")
	hist.GET("", s.handleHistoryList)
	hist.GET("/:id", s.handleHistoryGet)
	hist.DELETE("/:id", s.handleHistoryDelete)

	return engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// withClient resolves the client id from the header or cookie, issuing a
// new one when neither carries a valid uuid.
func (s *Server) withClient(c *gin.Context) {
	id := strings.TrimSpace(c.GetHeader(clientHeader))
	if id == "" {
		id, _ = c.Cookie(clientCookie)
	}
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(clientCookie, id, int((365 * 24 * time.Hour).Seconds()), "/", "", false, true)
	}
	c.Header(clientHeader, id)
	c.Set(clientKey, id)
	c.Next()
}

func (s *Server) client(c *gin.Context) (*clientFlow, error) {
	id := c.GetString(clientKey)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cf, ok := s.flows[id]; ok {
		cf.lastSeen = now
		return cf, nil
	}
	s.evictIdleLocked(now)

	st, err := settings.NewSQLStore(s.deps.Settings, id)
	if err != nil {
		return nil, err
	}
	cf := &clientFlow{
		settings: st,
		lastSeen: now,
		flow: session.New(session.Deps{
			Settings:    st,
			History:     s.deps.History,
			Transcriber: s.deps.Transcriber,
			Scorer:      s.deps.Scorer,
			Bank:        s.deps.Bank.Clone(),
			Logger:      s.logger.With("client", shortID(id)),
		}, session.Options{
			DefaultModel:         s.cfg.Scoring.DefaultModel,
			TranscriptionTimeout: s.cfg.Timeouts.Transcription,
			ScoringTimeout:       s.cfg.Timeouts.Scoring,
		}),
	}
	s.flows[id] = cf
	return cf, nil
}

// evictIdleLocked drops in-memory sessions untouched for longer than s.idle.
// Settings live in the backend and survive eviction; an in-progress attempt
// does not. A non-positive idle keeps every session.
func (s *Server) evictIdleLocked(now time.Time) {
	if s.idle <= 0 {
		return
	}
	for id, cf := range s.flows {
		if now.Sub(cf.lastSeen) > s.idle {
			delete(s.flows, id)
			s.logger.Debug("session evicted", "client", shortID(id))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
