package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
)

func TestAddRejectsSelfAndDuplicates(t *testing.T) {
	u := models.User{ID: "a"}

	assert.False(t, Add(&u, models.FieldFriends, "a"))
	assert.True(t, Add(&u, models.FieldFriends, "b"))
	assert.False(t, Add(&u, models.FieldFriends, "b"))
	assert.Equal(t, []string{"b"}, u.Friends)
}

func TestRemoveAndStrip(t *testing.T) {
	u := models.User{
		ID:           "a",
		Friends:      []string{"b", "c"},
		SentRequests: []string{"d"},
		Blocked:      []string{"e"},
	}

	assert.True(t, Remove(&u, models.FieldFriends, "b"))
	assert.False(t, Remove(&u, models.FieldFriends, "b"))
	assert.Equal(t, []string{"c"}, u.Friends)

	Strip(&u, "d")
	Strip(&u, "e")
	assert.Empty(t, u.SentRequests)
	assert.Empty(t, u.Blocked)
}

func TestRelationOf(t *testing.T) {
	u := models.User{ID: "a", ReceivedRequests: []string{"b"}}

	f, ok := RelationOf(u, "b")
	require.True(t, ok)
	assert.Equal(t, models.FieldReceivedRequests, f)

	_, ok = RelationOf(u, "z")
	assert.False(t, ok)
}

func TestCheckExclusive(t *testing.T) {
	ok := models.User{ID: "a", Friends: []string{"b"}, Blocked: []string{"c"}}
	require.NoError(t, CheckExclusive(ok))

	overlap := models.User{ID: "a", Friends: []string{"b"}, Blocked: []string{"b"}}
	err := CheckExclusive(overlap)
	var oe *OverlapError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "b", oe.OtherID)
	assert.Equal(t, models.FieldFriends, oe.First)
	assert.Equal(t, models.FieldBlocked, oe.Second)

	self := models.User{ID: "a", SentRequests: []string{"a"}}
	assert.Error(t, CheckExclusive(self))
}

func TestReferenced(t *testing.T) {
	u := models.User{ID: "a", Friends: []string{"b"}, SentRequests: []string{"c"}, Blocked: []string{"b"}}
	assert.Equal(t, []string{"b", "c"}, Referenced(u))
}
