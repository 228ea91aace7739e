package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"chatsync/internal/ledger"
	"chatsync/internal/models"
)

// QueryKind selects what a live query watches.
type QueryKind int

const (
	// QueryUser watches one user record.
	QueryUser QueryKind = iota + 1
	// QueryUsersListedBy watches the users listed in one array of a user record.
	QueryUsersListedBy
	// QueryChatsOf watches the chats a user participates in.
	QueryChatsOf
	// QueryMessagesOf watches the messages of one chat.
	QueryMessagesOf
)

// Query describes a live query.
type Query struct {
	Kind  QueryKind
	ID    string
	Field models.LedgerField
}

func UserDoc(id string) Query { return Query{Kind: QueryUser, ID: id} }

func UsersListedBy(id string, field models.LedgerField) Query {
	return Query{Kind: QueryUsersListedBy, ID: id, Field: field}
}

func ChatsOf(userID string) Query { return Query{Kind: QueryChatsOf, ID: userID} }

func MessagesOf(chatID string) Query { return Query{Kind: QueryMessagesOf, ID: chatID} }

func (q Query) String() string {
	switch q.Kind {
	case QueryUser:
		return "user(" + q.ID + ")"
	case QueryUsersListedBy:
		return fmt.Sprintf("users_listed_by(%s.%s)", q.ID, q.Field)
	case QueryChatsOf:
		return "chats_of(" + q.ID + ")"
	case QueryMessagesOf:
		return "messages_of(" + q.ID + ")"
	}
	return "unknown"
}

// Result is the full result set of a query at one point in time. Only the
// field matching the query kind is set.
type Result struct {
	Query    Query
	User     *models.User
	Users    []models.User
	Chats    []models.Chat
	Messages []models.Message
}

// Evaluate runs q against r. Deleted users are left out of user lists and a
// missing or deleted owner record yields an empty result rather than an error.
func Evaluate(ctx context.Context, r Reader, q Query) (Result, error) {
	res := Result{Query: q}
	switch q.Kind {
	case QueryUser:
		u, err := r.GetUser(ctx, q.ID)
		if errors.Is(err, ErrNotFound) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.User = &u
	case QueryUsersListedBy:
		owner, err := r.GetUser(ctx, q.ID)
		if errors.Is(err, ErrNotFound) {
			res.Users = []models.User{}
			return res, nil
		}
		if err != nil {
			return res, err
		}
		ids := ledger.IDs(owner, q.Field)
		if owner.Deleted || len(ids) == 0 {
			res.Users = []models.User{}
			return res, nil
		}
		users, err := r.GetUsers(ctx, ids)
		if err != nil {
			return res, err
		}
		res.Users = make([]models.User, 0, len(users))
		for _, u := range users {
			if !u.Deleted {
				res.Users = append(res.Users, u)
			}
		}
	case QueryChatsOf:
		chats, err := r.ListChats(ctx, q.ID)
		if err != nil {
			return res, err
		}
		res.Chats = chats
	case QueryMessagesOf:
		msgs, err := r.ListMessages(ctx, q.ID)
		if err != nil {
			return res, err
		}
		res.Messages = msgs
	default:
		return res, fmt.Errorf("docstore: unknown query kind %d", q.Kind)
	}
	return res, nil
}

// SortChats orders chats by most recent activity, then by id.
func SortChats(chats []models.Chat) {
	sort.Slice(chats, func(i, j int) bool {
		a, b := chats[i], chats[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.ID < b.ID
	})
}
