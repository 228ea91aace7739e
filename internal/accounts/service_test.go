package accounts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/accounts"
	"chatsync/internal/apperrors"
	"chatsync/internal/jobs"
	"chatsync/internal/ledger"
	"chatsync/internal/mocks"
	"chatsync/internal/models"
	"chatsync/internal/relations"
	"chatsync/internal/telemetry"
	"chatsync/internal/testutil"
)

func TestRegisterAndProfile(t *testing.T) {
	store := testutil.NewStore(t)
	svc := accounts.NewService(store, jobs.NewInline(nil))
	ctx := context.Background()

	u, err := svc.Register(ctx, "u1", accounts.Registration{DisplayName: "  Ada  ", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.Equal(t, models.StatusOffline, u.Status)

	_, err = svc.Register(ctx, "u1", accounts.Registration{DisplayName: "Ada"})
	assert.ErrorIs(t, err, apperrors.ErrUserExists)
	_, err = svc.Register(ctx, "u2", accounts.Registration{DisplayName: " "})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	got, err := svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)

	_, err = svc.Profile(ctx, "nobody")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestUpdateProfile(t *testing.T) {
	store := testutil.NewStore(t)
	testutil.SeedUsers(t, store, "u1")
	svc := accounts.NewService(store, jobs.NewInline(nil))
	ctx := context.Background()

	bio := "hello"
	u, err := svc.UpdateProfile(ctx, "u1", accounts.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hello", u.Bio)
	assert.Equal(t, "user u1", u.DisplayName)

	empty := ""
	_, err = svc.UpdateProfile(ctx, "u1", accounts.ProfileUpdate{DisplayName: &empty})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestDeletePurgesPeers(t *testing.T) {
	store := testutil.NewStore(t)
	testutil.SeedUsers(t, store, "a", "b")
	rel := relations.NewService(store)
	queue := jobs.NewInline(nil)
	queue.Register(jobs.TaskPurgeUser, rel.HandlePurgeTask)
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, telemetry.EventAccountDeleted, mock.MatchedBy(func(ev telemetry.DomainEvent) bool {
		return ev.ActorID == "a"
	})).Return(nil).Once()
	svc := accounts.NewService(store, queue, accounts.WithEvents(telemetry.NewEventEmitter(pub, "chatsync", nil)))
	ctx := context.Background()

	require.NoError(t, rel.SendRequest(ctx, "a", "b"))
	require.NoError(t, rel.AcceptRequest(ctx, "b", "a"))

	require.NoError(t, svc.Delete(ctx, "a"))
	queue.Wait()

	a := testutil.User(t, store, "a")
	assert.True(t, a.Deleted)
	_, listed := ledger.RelationOf(testutil.User(t, store, "b"), "a")
	assert.False(t, listed)

	assert.ErrorIs(t, svc.Delete(ctx, "a"), apperrors.ErrUserNotFound)
	_, err := svc.Profile(ctx, "a")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
	pub.AssertExpectations(t)
}
