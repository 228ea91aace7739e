package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/middleware"
	"chatsync/internal/models"
)

// RelationsService is the relationship state machine as seen by HTTP.
type RelationsService interface {
	SendRequest(ctx context.Context, from, to string) error
	AcceptRequest(ctx context.Context, userID, requester string) error
	RejectRequest(ctx context.Context, userID, requester string) error
	CancelRequest(ctx context.Context, userID, recipient string) error
	RemoveFriend(ctx context.Context, userID, friendID string) error
	Block(ctx context.Context, userID, target string) error
	Unblock(ctx context.Context, userID, target string) error
	CheckStatus(ctx context.Context, userID, otherID string) (models.FriendshipStatus, error)
}

// RelationsHandler serves /relations/:user_id.
type RelationsHandler struct {
	svc RelationsService
}

func NewRelationsHandler(svc RelationsService) *RelationsHandler {
	return &RelationsHandler{svc: svc}
}

func (h *RelationsHandler) Routes(r gin.IRoutes) {
	r.POST("/relations/:user_id/request", h.mutation(h.svc.SendRequest))
	r.POST("/relations/:user_id/accept", h.mutation(h.svc.AcceptRequest))
	r.POST("/relations/:user_id/reject", h.mutation(h.svc.RejectRequest))
	r.POST("/relations/:user_id/cancel", h.mutation(h.svc.CancelRequest))
	r.DELETE("/relations/:user_id/friend", h.mutation(h.svc.RemoveFriend))
	r.POST("/relations/:user_id/block", h.mutation(h.svc.Block))
	r.DELETE("/relations/:user_id/block", h.mutation(h.svc.Unblock))
	r.GET("/relations/:user_id/status", h.Status)
}

func (h *RelationsHandler) mutation(op func(ctx context.Context, userID, otherID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		respondResult(c, op(c.Request.Context(), middleware.UserID(c), c.Param("user_id")))
	}
}

// Status returns the friendship state between the caller and :user_id.
func (h *RelationsHandler) Status(c *gin.Context) {
	st, err := h.svc.CheckStatus(c.Request.Context(), middleware.UserID(c), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
