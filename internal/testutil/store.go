package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/internal/docstore/memstore"
	"chatsync/internal/models"
)

// Epoch is the start time used by fixtures.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewStore returns an in-memory store that is closed when the test ends.
func NewStore(t testing.TB) *memstore.Store {
	t.Helper()
	s := memstore.New(nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// SeedUsers registers one offline user per id.
func SeedUsers(t testing.TB, s *memstore.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.CreateUser(context.Background(), models.User{
			ID:          id,
			DisplayName: "user " + id,
			Email:       id + "@example.com",
			Status:      models.StatusOffline,
			CreatedAt:   Epoch,
			UpdatedAt:   Epoch,
		}))
	}
}

// User loads id or fails the test.
func User(t testing.TB, s *memstore.Store, id string) models.User {
	t.Helper()
	u, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}
