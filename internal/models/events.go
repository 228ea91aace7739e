package models

// Event types pushed to sync clients.
const (
	EventSnapshot = "snapshot"
	EventMessages = "messages"
	EventError    = "error"
)

// Frame types sent by sync clients.
const (
	FrameActivity  = "activity"
	FrameViewChat  = "view_chat"
	FrameCloseChat = "close_chat"
)

// SyncEvent is broadcasted through the sync websocket.
type SyncEvent struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	ChatID   string    `json:"chat_id,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ClientFrame is a message received from a sync client.
type ClientFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id,omitempty"`
}
