package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/verigate/verigate/internal/archive"
	"github.com/verigate/verigate/internal/config"
	"github.com/verigate/verigate/internal/delivery"
	"github.com/verigate/verigate/internal/geo"
	"github.com/verigate/verigate/internal/handler"
	"github.com/verigate/verigate/internal/middleware"
	"github.com/verigate/verigate/internal/model"
	"github.com/verigate/verigate/internal/store"
	"github.com/verigate/verigate/internal/token"
	ws "github.com/verigate/verigate/internal/websocket"
)

type Server struct {
	db           *sql.DB
	cfg          *config.Config
	hub          *ws.Hub
	sessionH     *handler.SessionHandler
	sessionStore *store.SessionStore
	pipeline     *delivery.Pipeline
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, resolver geo.Resolver, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	sessionStore := store.NewSessionStore(db, cfg.TokenTTL)
	authority := token.NewAuthority(sessionStore, logger.With("component", "token"))

	archiver := archive.NewWriter(archive.Config{
		Dir: cfg.ArchiveDir,
		S3: archive.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
	}, logger.With("component", "archive"))

	pipeline := delivery.New(delivery.Config{
		WebhookURL:  cfg.WebhookURL,
		APISecret:   cfg.APISecret,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBase,
		Workers:     cfg.DeliveryWorkers,
		QueueSize:   cfg.DeliveryQueueSize,
		Timeout:     cfg.DeliveryTimeout,
	}, archiver, func(rec *model.VerificationRecord, att delivery.Attempt) {
		action := "delivered"
		if att.DeliveredAt == nil {
			action = "failed"
		}
		hub.Broadcast(ws.NewMessage("delivery", action, rec.SubjectID, map[string]any{
			"record_id": rec.ID,
			"attempts":  att.Count,
		}))
	}, logger.With("component", "delivery"))

	sessionH := handler.NewSessionHandler(
		authority, sessionStore, resolver, pipeline, hub, cfg.BaseURL,
		logger.With("component", "session"),
	)

	return &Server{
		db:           db,
		cfg:          cfg,
		hub:          hub,
		sessionH:     sessionH,
		sessionStore: sessionStore,
		pipeline:     pipeline,
		rateLimiter:  middleware.NewRateLimiter(),
		logger:       logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// Pipeline returns the delivery pipeline so the caller controls its lifecycle.
func (s *Server) Pipeline() *delivery.Pipeline {
	return s.pipeline
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /verify", s.rateLimited(s.sessionH.VerifyPage))
	mux.HandleFunc("GET /success", s.sessionH.SuccessPage)
	mux.HandleFunc("POST /api/submissions", s.rateLimited(s.sessionH.Submit))

	// Operator routes — shared-secret gated
	requireSecret := middleware.RequireSecret(s.cfg.APISecret)
	mux.Handle("POST /api/sessions", requireSecret(http.HandlerFunc(s.sessionH.Create)))
	mux.Handle("GET /ws", requireSecret(ws.Handler(s.hub, s.logger.With("component", "websocket"))))

	return middleware.RequestLogger(s.logger.With("component", "http"))(
		middleware.SecurityHeaders(mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, s.cfg.RateLimitRequests, s.cfg.RateLimitWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
