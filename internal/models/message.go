package models

import "time"

// MessageType tells how Content is encoded.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// ImagePreview is the last-message text shown for image messages.
const ImagePreview = "Photo"

// Message is a chat message. Messages are never edited, only deleted.
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chat_id"`
	SenderID  string      `json:"sender_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// Preview is the denormalized last-message text for m.
func (m Message) Preview() string {
	if m.Type == MessageTypeImage {
		return ImagePreview
	}
	return m.Content
}
