package realtime

import (
	"sync"

	"chatsync/internal/docstore"
	"chatsync/internal/models"
)

// ChatView keeps at most one message listener open: the one for the chat
// currently on screen.
type ChatView struct {
	store   *Store
	onData  func(chatID string, msgs []models.Message)
	onError func(chatID string, err error)

	mu     sync.Mutex
	chatID string
	unsub  docstore.Unsubscribe
}

func NewChatView(s *Store, onData func(string, []models.Message), onError func(string, error)) *ChatView {
	return &ChatView{store: s, onData: onData, onError: onError}
}

// Open switches the view to chatID, closing the previous listener first.
// Opening the chat already shown does nothing.
func (v *ChatView) Open(chatID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unsub != nil && v.chatID == chatID {
		return
	}
	v.closeLocked()

	v.chatID = chatID
	v.unsub = v.store.SubscribeToMessages(chatID,
		func(msgs []models.Message) {
			if v.onData != nil {
				v.onData(chatID, msgs)
			}
		},
		func(err error) {
			if v.onError != nil {
				v.onError(chatID, err)
			}
		},
	)
}

// Close stops the current listener, if any.
func (v *ChatView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeLocked()
}

func (v *ChatView) closeLocked() {
	if v.unsub != nil {
		v.unsub()
	}
	v.unsub = nil
	v.chatID = ""
}

// Current returns the open chat id, empty when none.
func (v *ChatView) Current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.chatID
}
