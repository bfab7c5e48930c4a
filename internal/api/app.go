package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/thnx4playing/msgdrop/internal/config"
	"github.com/thnx4playing/msgdrop/internal/database"
	"github.com/thnx4playing/msgdrop/internal/media"
	"github.com/thnx4playing/msgdrop/internal/server"
)

const (
	unlockAttemptLimit  = 5
	unlockAttemptWindow = 5 * time.Minute
)

type MsgDropApp struct {
	log            *log.Logger
	db             database.MsgDropRepository
	blobs          media.Store
	mux            *http.Server
	cs             *server.MsgDropServer
	signingKey     []byte
	unlockCodeHash string
	allowedOrigins []string
	limiter        *attemptLimiter
}

func NewMsgDropApp(mux *http.ServeMux, logger *log.Logger, cs *server.MsgDropServer, db database.MsgDropRepository, blobs media.Store, cfg *config.Config) *MsgDropApp {
	s := &MsgDropApp{
		log:            logger,
		db:             db,
		blobs:          blobs,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		unlockCodeHash: cfg.UnlockCodeHash,
		allowedOrigins: cfg.AllowedOrigins,
		limiter:        newAttemptLimiter(unlockAttemptLimit, unlockAttemptWindow),
	}

	mux.HandleFunc("POST /api/unlock", s.unlock)
	mux.Handle("GET /api/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/chat/{dropId}", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/chat/{dropId}", s.authMiddleware(s.postMessage))
	mux.Handle("PATCH /api/chat/{dropId}/{seq}", s.authMiddleware(s.editMessage))
	mux.Handle("DELETE /api/chat/{dropId}/{seq}", s.authMiddleware(s.deleteMessage))
	mux.Handle("POST /api/chat/{dropId}/reactions", s.authMiddleware(s.react))
	mux.Handle("POST /api/chat/{dropId}/read", s.authMiddleware(s.markRead))
	mux.Handle("GET /api/streak/{dropId}", s.authMiddleware(s.getStreak))
	mux.Handle("GET /api/geo/{dropId}/games", s.authMiddleware(s.getGeoGames))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *MsgDropApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *MsgDropApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
