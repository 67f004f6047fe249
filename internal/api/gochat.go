package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatstore/internal/config"
	"github.com/npezzotti/go-chatstore/internal/database"
	"github.com/rs/zerolog"
)

// ChatApp exposes the chat repository over JSON/HTTP.
type ChatApp struct {
	log zerolog.Logger
	db  database.ChatRepository
	srv *http.Server
}

func NewChatApp(mux *http.ServeMux, logger zerolog.Logger, db database.ChatRepository, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log: logger.With().Str("component", "api").Logger(),
		db:  db,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/users", s.registerUser)
	mux.HandleFunc("GET /api/users/me", s.authMiddleware(s.currentUser))
	mux.HandleFunc("GET /api/rooms", s.getRooms)
	mux.HandleFunc("POST /api/rooms", s.ensureRoom)
	mux.HandleFunc("GET /api/rooms/{id}", s.getRoom)
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.listMessages)
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.authMiddleware(s.createMessage))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
	)(mux)

	h = handlers.CombinedLoggingHandler(s.log.With().Str("component", "access").Logger(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *ChatApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
