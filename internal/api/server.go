package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/server"
)

type ChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

func NewChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/groups", s.authMiddleware(s.createGroup))
	mux.Handle("GET /api/groups", s.authMiddleware(s.getGroups))
	mux.Handle("POST /api/groups/members", s.authMiddleware(s.addGroupMember))
	mux.Handle("GET /api/contacts", s.authMiddleware(s.getContacts))
	mux.Handle("POST /api/contacts", s.authMiddleware(s.addContact))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/messages/unlock", s.authMiddleware(s.unlockMessage))
	mux.Handle("GET /api/seen", s.authMiddleware(s.getSeenMark))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
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

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
