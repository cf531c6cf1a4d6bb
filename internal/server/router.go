package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/confessio/backend/internal/board"
	"github.com/confessio/backend/internal/moderation"
	"github.com/confessio/backend/internal/wall"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	errMissingEngine      = errors.New("wall engine dependency required")
	errMissingKeyProvider = errors.New("board key provider dependency required")
)

// Dependencies wires the HTTP layer to the synchronization engine.
type Dependencies struct {
	Engine      *wall.Engine
	KeyProvider board.KeyProvider
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router for the confession wall API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.KeyProvider == nil {
		return nil, errMissingKeyProvider
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		engine: deps.Engine,
		keys:   deps.KeyProvider,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/generate-id", handler.handleGenerateID)
	router.POST("/api/admin/login", handler.handleAdminLogin)
	router.GET("/boards/:key/stream", handler.handleBoardStream)
	router.POST("/boards/:key/notes", handler.handlePostNote)
	router.DELETE("/api/admin/boards/:key/notes/:id", handler.handleAdminDeleteNote)
	router.POST("/api/admin/boards/:key/clear", handler.handleAdminClearBoard)

	return router, nil
}

type httpHandler struct {
	engine *wall.Engine
	keys   board.KeyProvider
	logger *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleGenerateID(c *gin.Context) {
	token, err := h.keys.NewKey()
	if err != nil {
		h.logger.Error("board key generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "key_generation_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": token})
}

type postNotePayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handlePostNote(c *gin.Context) {
	var request postNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.engine.Post(c.Request.Context(), c.Param("key"), request.Text); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "post_failed"})
		return
	}
	// 204 whether the note was accepted or silently dropped; the protocol
	// defines no error event for validation failures.
	c.Status(http.StatusNoContent)
}

type adminLoginPayload struct {
	Secret string `json:"secret"`
}

type adminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	TokenType string `json:"token_type"`
}

func (h *httpHandler) handleAdminLogin(c *gin.Context) {
	var request adminLoginPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.engine.Login(request.Secret)
	if err != nil {
		if errors.Is(err, moderation.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("moderator login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	c.JSON(http.StatusOK, adminLoginResponse{
		Token:     token,
		ExpiresIn: expiresIn,
		TokenType: "Bearer",
	})
}

func (h *httpHandler) handleAdminDeleteNote(c *gin.Context) {
	err := h.engine.DeleteNote(c.Request.Context(), c.Param("key"), c.Param("id"), moderationCredential(c))
	h.respondModeration(c, err)
}

func (h *httpHandler) handleAdminClearBoard(c *gin.Context) {
	err := h.engine.ClearBoard(c.Request.Context(), c.Param("key"), moderationCredential(c))
	h.respondModeration(c, err)
}

func (h *httpHandler) respondModeration(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, moderation.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, board.ErrInvalidBoardKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_board_key"})
	default:
		h.logger.Error("moderation action failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "moderation_failed"})
	}
}

// moderationCredential extracts the moderation secret or a moderator token
// from the Authorization header, falling back to the secret query parameter.
func moderationCredential(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("secret")
}
