package main

import (
	"context"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/vipulgupta28/DrawIt/internal/auth"
	"github.com/vipulgupta28/DrawIt/internal/config"
	"github.com/vipulgupta28/DrawIt/internal/relay"
	"github.com/vipulgupta28/DrawIt/internal/state"
	"github.com/vipulgupta28/DrawIt/internal/store"
)

const version = "0.1.0"

// Server wires the relay hub, the record store and the HTTP surface.
type Server struct {
	cfg          *config.Config
	router       *gin.Engine
	stateManager *state.Manager
	hub          *relay.Hub
	verifier     *auth.Verifier
	issuer       *auth.Issuer
	store        *store.Store

	startOnce sync.Once
	stopOnce  sync.Once
	hubCancel context.CancelFunc
	hubDone   chan struct{}
}

// NewServer builds a server from cfg. st may be nil, in which case the
// record-backed endpoints answer 503.
func NewServer(cfg *config.Config, st *store.Store) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	issuer, err := auth.NewIssuer(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	sm := state.NewManagerWithOptions(cfg.SendBuffer)
	hub := relay.NewHub(sm, relay.Options{
		PingInterval:   cfg.PingInterval,
		PongTimeout:    cfg.PongTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxMissedPings: cfg.MaxMissedPings,
		EventBuffer:    cfg.EventBuffer,
	})

	s := &Server{
		cfg:          cfg,
		stateManager: sm,
		hub:          hub,
		verifier:     verifier,
		issuer:       issuer,
		store:        st,
		hubDone:      make(chan struct{}),
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.cidMiddleware(), s.otelMiddleware(), s.accessLogMiddleware())
	s.setupRoutes()
	return s, nil
}

// Start runs the relay event loop in the background.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.hubCancel = cancel
		go func() {
			defer close(s.hubDone)
			s.hub.Run(ctx)
		}()
	})
}

// Stop closes every WebSocket with 1001 and waits for the event loop to end.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.hubCancel == nil {
			return
		}
		s.hubCancel()
		<-s.hubDone
	})
}

func (s *Server) setupRoutes() {
	r := s.router

	r.GET("/", s.handleRoot)
	r.GET("/ws", s.handleWebSocket)

	r.GET("/health", s.handleHealth)
	r.GET("/api/stats", s.handleStats)
	r.GET("/api/rooms", s.handleRooms)

	r.POST("/signup", s.handleSignup)
	r.POST("/signin", s.handleSignin)
	r.POST("/guest", s.handleGuest)

	r.GET("/chats/:roomId", s.handleGetChats)
	r.POST("/chats/:roomId", s.requireAuth(), s.handlePostChat)
	r.POST("/rooms", s.requireAuth(), s.handleCreateRoom)
	r.GET("/room/:slug", s.handleGetRoom)
}
