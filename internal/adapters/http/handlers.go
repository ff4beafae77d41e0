package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/gridvoice/internal/adapters/signal"
	"github.com/dkeye/gridvoice/internal/app/identity"
	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	deps Deps
}

type LoginRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name" binding:"required"`
}

type LoginResponse struct {
	Token string             `json:"token"`
	User  domain.Participant `json:"user"`
}

type SetAvatarRequest struct {
	Token    string          `json:"token"`
	AvatarID domain.AvatarID `json:"avatarId"`
}

func (h *handlers) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and name are required"})
		return
	}
	token, user, err := h.deps.Identity.Login(req.Email, req.Name)
	if err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("module", "adapters.http").Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	sess := sessions.Default(c)
	sess.Set(signal.SessionTokenKey, token)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}

	log.Info().Str("module", "adapters.http").Str("participant", string(user.ID)).Msg("login")
	c.JSON(http.StatusOK, LoginResponse{Token: token, User: user})
}

func (h *handlers) avatars(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Avatars.List())
}

func (h *handlers) setAvatar(c *gin.Context) {
	var req SetAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	if req.Token == "" {
		req.Token, _ = sessions.Default(c).Get(signal.SessionTokenKey).(string)
	}
	if !h.deps.Avatars.Known(req.AvatarID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown avatar"})
		return
	}

	err := h.deps.Identity.SetAvatarByToken(req.Token, req.AvatarID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, identity.ErrUnknownParticipant):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, identity.ErrInvalidToken), errors.Is(err, identity.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("set avatar")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "set avatar failed"})
	}
}

func (h *handlers) roster(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.deps.Hub.Snapshot()})
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrIdentifierEmpty) ||
		errors.Is(err, domain.ErrIdentifierTooLong) ||
		errors.Is(err, domain.ErrDisplayNameEmpty) ||
		errors.Is(err, domain.ErrDisplayNameLong)
}
