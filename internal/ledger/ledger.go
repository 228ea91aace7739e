// Package ledger implements set operations over the relationship arrays of a
// user record. Every other-user id may appear in at most one array.
package ledger

import (
	"fmt"

	"chatsync/internal/models"
)

// Fields lists the relationship arrays in a fixed order.
var Fields = []models.LedgerField{
	models.FieldFriends,
	models.FieldSentRequests,
	models.FieldReceivedRequests,
	models.FieldBlocked,
}

// OverlapError reports an id listed in more than one array.
type OverlapError struct {
	UserID  string
	OtherID string
	First   models.LedgerField
	Second  models.LedgerField
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("ledger: %s lists %s in both %s and %s", e.UserID, e.OtherID, e.First, e.Second)
}

func list(u *models.User, f models.LedgerField) *[]string {
	switch f {
	case models.FieldFriends:
		return &u.Friends
	case models.FieldSentRequests:
		return &u.SentRequests
	case models.FieldReceivedRequests:
		return &u.ReceivedRequests
	case models.FieldBlocked:
		return &u.Blocked
	}
	panic(fmt.Sprintf("ledger: unknown field %q", f))
}

// IDs returns the ids stored in field f.
func IDs(u models.User, f models.LedgerField) []string {
	return *list(&u, f)
}

// Contains reports whether id is listed in field f of u.
func Contains(u models.User, f models.LedgerField, id string) bool {
	for _, v := range *list(&u, f) {
		if v == id {
			return true
		}
	}
	return false
}

// Add appends id to field f. It refuses self references and duplicates and
// reports whether the array changed.
func Add(u *models.User, f models.LedgerField, id string) bool {
	if id == "" || id == u.ID || Contains(*u, f, id) {
		return false
	}
	ids := list(u, f)
	*ids = append(*ids, id)
	return true
}

// Remove deletes every occurrence of id from field f and reports whether the
// array changed.
func Remove(u *models.User, f models.LedgerField, id string) bool {
	ids := list(u, f)
	kept := (*ids)[:0]
	removed := false
	for _, v := range *ids {
		if v == id {
			removed = true
			continue
		}
		kept = append(kept, v)
	}
	*ids = kept
	return removed
}

// Strip removes id from all four arrays.
func Strip(u *models.User, id string) {
	for _, f := range Fields {
		Remove(u, f, id)
	}
}

// RelationOf returns the array of u that lists other.
func RelationOf(u models.User, other string) (models.LedgerField, bool) {
	for _, f := range Fields {
		if Contains(u, f, other) {
			return f, true
		}
	}
	return "", false
}

// Referenced returns every id listed in any array of u, without duplicates.
func Referenced(u models.User) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range Fields {
		for _, id := range IDs(u, f) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// CheckExclusive verifies that no id is listed in two arrays, that no array
// holds a duplicate and that u never references itself.
func CheckExclusive(u models.User) error {
	where := make(map[string]models.LedgerField)
	for _, f := range Fields {
		for _, id := range IDs(u, f) {
			if id == u.ID {
				return &OverlapError{UserID: u.ID, OtherID: id, First: f, Second: f}
			}
			if prev, ok := where[id]; ok {
				return &OverlapError{UserID: u.ID, OtherID: id, First: prev, Second: f}
			}
			where[id] = f
		}
	}
	return nil
}
