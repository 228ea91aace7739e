package models

import "time"

// Status is a user's presence indicator.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the known presence values.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// LedgerField names one of the four relationship arrays of a user record.
type LedgerField string

const (
	FieldFriends          LedgerField = "friends"
	FieldSentRequests     LedgerField = "sent_requests"
	FieldReceivedRequests LedgerField = "received_requests"
	FieldBlocked          LedgerField = "blocked"
)

// User is the user record. The four id arrays are the user's side of every
// relationship edge it takes part in.
type User struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"display_name"`
	Email            string    `json:"email,omitempty"`
	Avatar           string    `json:"avatar,omitempty"`
	Bio              string    `json:"bio,omitempty"`
	Status           Status    `json:"status"`
	LastSeen         time.Time `json:"last_seen"`
	Verified         bool      `json:"verified"`
	Friends          []string  `json:"friends"`
	SentRequests     []string  `json:"sent_requests"`
	ReceivedRequests []string  `json:"received_requests"`
	Blocked          []string  `json:"blocked"`
	Deleted          bool      `json:"deleted,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices with u.
func (u User) Clone() User {
	u.Friends = cloneIDs(u.Friends)
	u.SentRequests = cloneIDs(u.SentRequests)
	u.ReceivedRequests = cloneIDs(u.ReceivedRequests)
	u.Blocked = cloneIDs(u.Blocked)
	return u
}

// PublicProfile is the view of u handed to other users: identity and
// presence only, never the relationship arrays or the email address.
func (u User) PublicProfile() User {
	return User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		Bio:         u.Bio,
		Status:      u.Status,
		LastSeen:    u.LastSeen,
		Verified:    u.Verified,
	}
}

// FriendshipStatus is the display state of the edge between the caller and
// another user.
type FriendshipStatus struct {
	IsFriend        bool `json:"is_friend"`
	RequestSent     bool `json:"request_sent"`
	RequestReceived bool `json:"request_received"`
	IsBlocked       bool `json:"is_blocked"`
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
