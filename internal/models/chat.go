package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// NoMessagesPreview is the last-message text of a chat without messages.
const NoMessagesPreview = "No messages yet"

// Chat is a private conversation between exactly two users.
type Chat struct {
	ID              string          `json:"id"`
	Participants    []string        `json:"participants"`
	Members         map[string]bool `json:"members"`
	LastMessage     string          `json:"last_message"`
	LastMessageType MessageType     `json:"last_message_type"`
	LastSenderID    string          `json:"last_sender_id,omitempty"`
	LastMessageAt   time.Time       `json:"last_message_at"`
	Unread          map[string]int  `json:"unread"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ChatIDFor derives the id of the chat between a and b. The result does not
// depend on argument order.
func ChatIDFor(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(strings.Join(pair, "_")))
	return hex.EncodeToString(sum[:])[:32]
}

// NewChat builds an empty chat between a and b.
func NewChat(a, b string, now time.Time) Chat {
	participants := []string{a, b}
	sort.Strings(participants)
	return Chat{
		ID:              ChatIDFor(a, b),
		Participants:    participants,
		Members:         map[string]bool{a: true, b: true},
		LastMessage:     NoMessagesPreview,
		LastMessageType: MessageTypeText,
		LastMessageAt:   now,
		Unread:          map[string]int{a: 0, b: 0},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// HasParticipant reports whether userID belongs to the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Other returns the participant that is not userID.
func (c Chat) Other(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// ResetLastMessage puts the placeholder back into the denormalized fields.
func (c *Chat) ResetLastMessage(now time.Time) {
	c.LastMessage = NoMessagesPreview
	c.LastMessageType = MessageTypeText
	c.LastSenderID = ""
	c.LastMessageAt = now
}

// Clone returns a copy that shares no slices or maps with c.
func (c Chat) Clone() Chat {
	c.Participants = cloneIDs(c.Participants)
	if c.Members != nil {
		members := make(map[string]bool, len(c.Members))
		for k, v := range c.Members {
			members[k] = v
		}
		c.Members = members
	}
	if c.Unread != nil {
		unread := make(map[string]int, len(c.Unread))
		for k, v := range c.Unread {
			unread[k] = v
		}
		c.Unread = unread
	}
	return c
}
