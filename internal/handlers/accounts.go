package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/accounts"
	"chatsync/internal/middleware"
	"chatsync/internal/models"
)

type AccountsService interface {
	Register(ctx context.Context, userID string, in accounts.Registration) (models.User, error)
	Profile(ctx context.Context, userID string) (models.User, error)
	UpdateProfile(ctx context.Context, userID string, in accounts.ProfileUpdate) (models.User, error)
	Delete(ctx context.Context, userID string) error
}

// AccountHandler serves the caller's own record under /me.
type AccountHandler struct {
	svc AccountsService
}

func NewAccountHandler(svc AccountsService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

func (h *AccountHandler) Routes(r gin.IRoutes) {
	r.GET("/me", h.Get)
	r.POST("/me", h.Create)
	r.PATCH("/me", h.Update)
	r.DELETE("/me", h.Delete)
}

func (h *AccountHandler) Get(c *gin.Context) {
	u, err := h.svc.Profile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *AccountHandler) Create(c *gin.Context) {
	var req accounts.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.Register(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

func (h *AccountHandler) Update(c *gin.Context) {
	var req accounts.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.svc.UpdateProfile(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// Delete removes the caller's account. Peers are cleaned up in the background.
func (h *AccountHandler) Delete(c *gin.Context) {
	respondResult(c, h.svc.Delete(c.Request.Context(), middleware.UserID(c)))
}
