package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/chats"
	"chatsync/internal/middleware"
	"chatsync/internal/models"
)

// ChatsService is the chat store as seen by HTTP and the sync socket.
type ChatsService interface {
	CreateOrGetChat(ctx context.Context, userID, otherID string) (models.Chat, error)
	SendMessage(ctx context.Context, chatID, senderID string, in chats.MessageInput) (models.Message, error)
	MarkRead(ctx context.Context, chatID, userID string) error
	DeleteMessage(ctx context.Context, chatID, messageID, userID string) error
	DeleteAllMessages(ctx context.Context, chatID, userID string) (int, error)
	ListMessages(ctx context.Context, chatID, userID string) ([]models.Message, error)
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	EnsureParticipant(ctx context.Context, chatID, userID string) (models.Chat, error)
}

// ChatHandler manages private chat endpoints.
type ChatHandler struct {
	svc ChatsService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(svc ChatsService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

func (h *ChatHandler) Routes(r gin.IRoutes) {
	r.GET("/chats", h.ListChats)
	r.POST("/chats/start", h.StartChat)
	r.GET("/chats/:chat_id/messages", h.GetChatMessages)
	r.POST("/chats/:chat_id/messages", h.PostChatMessage)
	r.POST("/chats/:chat_id/read", h.MarkRead)
	r.DELETE("/chats/:chat_id/messages/:message_id", h.DeleteMessage)
	r.DELETE("/chats/:chat_id/messages", h.DeleteAllMessages)
}

type chatResponse struct {
	models.Chat
	FriendID string `json:"friend_id"`
	Unread   int    `json:"unread_count"`
}

func chatFor(chat models.Chat, userID string) chatResponse {
	return chatResponse{Chat: chat, FriendID: chat.Other(userID), Unread: chat.Unread[userID]}
}

// ListChats returns the caller's chats, most recent first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := middleware.UserID(c)
	list, err := h.svc.ListChats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]chatResponse, 0, len(list))
	for _, chat := range list {
		resp = append(resp, chatFor(chat, userID))
	}
	c.JSON(http.StatusOK, gin.H{"chats": resp})
}

// StartChat creates or returns the chat with a friend.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		FriendID string `json:"friend_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := middleware.UserID(c)
	chat, err := h.svc.CreateOrGetChat(c.Request.Context(), userID, req.FriendID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chat.ID, "chat": chatFor(chat, userID)})
}

// GetChatMessages returns the chat's messages oldest first.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	msgs, err := h.svc.ListMessages(c.Request.Context(), c.Param("chat_id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostChatMessage sends a text or image message.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	var req chats.MessageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), c.Param("chat_id"), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	respondResult(c, h.svc.MarkRead(c.Request.Context(), c.Param("chat_id"), middleware.UserID(c)))
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	err := h.svc.DeleteMessage(c.Request.Context(), c.Param("chat_id"), c.Param("message_id"), middleware.UserID(c))
	respondResult(c, err)
}

// DeleteAllMessages clears the chat history for both participants.
func (h *ChatHandler) DeleteAllMessages(c *gin.Context) {
	n, err := h.svc.DeleteAllMessages(c.Request.Context(), c.Param("chat_id"), middleware.UserID(c))
	if err != nil {
		respondResult(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": n})
}
