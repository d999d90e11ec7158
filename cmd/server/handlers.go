package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vipulgupta28/DrawIt/internal/auth"
	"github.com/vipulgupta28/DrawIt/internal/store"
	"github.com/vipulgupta28/DrawIt/internal/types"
)

const (
	userTokenTTL  = time.Hour
	guestTokenTTL = 6 * time.Hour
)

type signupRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type signinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type guestRequest struct {
	Username string `json:"username"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type roomRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type tokenResponse struct {
	Token string           `json:"token"`
	User  types.PublicUser `json:"user"`
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	storeStatus := "disabled"
	code := http.StatusOK
	if s.store != nil {
		storeStatus = "ok"
		if err := s.store.Ping(c.Request.Context()); err != nil {
			status, storeStatus, code = "degraded", "unreachable", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status":      status,
		"store":       storeStatus,
		"version":     version,
		"connections": s.stateManager.Len(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

func (s *Server) handleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.stateManager.RoomSizes()})
}

// requireStore answers 503 and returns false when no record store is wired.
func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "record store unavailable"})
		return false
	}
	return true
}

func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required"})
		return
	}
	if !s.requireStore(c) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.internalError(c, err, "hash password")
		return
	}
	user := types.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
			return
		}
		s.internalError(c, err, "create user")
		return
	}

	log.Info().Str("module", "http").Str("user", user.ID).Str("username", user.Username).Msg("user signed up")
	c.JSON(http.StatusCreated, gin.H{"user": publicUser(user)})
}

func (s *Server) handleSignin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}
	if !s.requireStore(c) {
		return
	}

	user, err := s.store.UserByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		s.internalError(c, err, "load user")
		return
	}
	if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := s.issuer.Mint(user.ID, user.Username, userTokenTTL)
	if err != nil {
		s.internalError(c, err, "mint token")
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, User: publicUser(user)})
}

// handleGuest issues a short-lived token for a fresh participant id. It does
// not touch the record store.
func (s *Server) handleGuest(c *gin.Context) {
	var req guestRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}
	user := types.PublicUser{ID: uuid.NewString(), Username: strings.TrimSpace(req.Username)}
	token, err := s.issuer.Mint(user.ID, user.Username, guestTokenTTL)
	if err != nil {
		s.internalError(c, err, "mint token")
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, User: user})
}

func (s *Server) handleGetChats(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	limit := store.DefaultChatLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	msgs, err := s.store.ChatsByRoom(c.Request.Context(), c.Param("roomId"), limit)
	if err != nil {
		s.internalError(c, err, "load chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handlePostChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}
	if !s.requireStore(c) {
		return
	}
	msg, err := s.store.AddChat(c.Request.Context(), c.Param("roomId"), c.GetString(ctxUserID), req.Message)
	if err != nil {
		s.internalError(c, err, "store chat")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (s *Server) handleCreateRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug required"})
		return
	}
	if !s.requireStore(c) {
		return
	}
	name := req.Name
	if name == "" {
		name = req.Slug
	}
	room, err := s.store.CreateRoom(c.Request.Context(), types.Room{
		Slug:    req.Slug,
		Name:    name,
		AdminID: c.GetString(ctxUserID),
	})
	if errors.Is(err, store.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": "Room already exists"})
		return
	}
	if err != nil {
		s.internalError(c, err, "create room")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (s *Server) handleGetRoom(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	room, err := s.store.RoomBySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		s.internalError(c, err, "load room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (s *Server) internalError(c *gin.Context, err error, op string) {
	log.Error().Str("module", "http").Err(err).Str("op", op).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func publicUser(u types.User) types.PublicUser {
	return types.PublicUser{ID: u.ID, Name: u.Name, Username: u.Username}
}
