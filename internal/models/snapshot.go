package models

// Snapshot is the aggregated realtime view of everything a signed-in user
// sees: own profile, friends, chats, pending requests and blocked users.
type Snapshot struct {
	Friends          []User `json:"friends"`
	Chats            []Chat `json:"chats"`
	Profile          *User  `json:"user_profile"`
	SentRequests     []User `json:"sent_requests"`
	ReceivedRequests []User `json:"received_requests"`
	BlockedUsers     []User `json:"blocked_users"`
	Loading          bool   `json:"loading"`
	Error            string `json:"error,omitempty"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Loading: s.Loading, Error: s.Error}
	out.Friends = cloneUsers(s.Friends)
	out.SentRequests = cloneUsers(s.SentRequests)
	out.ReceivedRequests = cloneUsers(s.ReceivedRequests)
	out.BlockedUsers = cloneUsers(s.BlockedUsers)
	if s.Chats != nil {
		out.Chats = make([]Chat, len(s.Chats))
		for i, c := range s.Chats {
			out.Chats[i] = c.Clone()
		}
	}
	if s.Profile != nil {
		p := s.Profile.Clone()
		out.Profile = &p
	}
	return out
}

func cloneUsers(users []User) []User {
	if users == nil {
		return nil
	}
	out := make([]User, len(users))
	for i, u := range users {
		out[i] = u.Clone()
	}
	return out
}
