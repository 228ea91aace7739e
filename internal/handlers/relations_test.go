package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/apperrors"
	"chatsync/internal/docstore"
	"chatsync/internal/mocks"
	"chatsync/internal/models"
)

func TestRelationMutationsRouteToService(t *testing.T) {
	cases := []struct {
		method string
		path   string
		op     string
	}{
		{http.MethodPost, "/relations/u2/request", "SendRequest"},
		{http.MethodPost, "/relations/u2/accept", "AcceptRequest"},
		{http.MethodPost, "/relations/u2/reject", "RejectRequest"},
		{http.MethodPost, "/relations/u2/cancel", "CancelRequest"},
		{http.MethodDelete, "/relations/u2/friend", "RemoveFriend"},
		{http.MethodPost, "/relations/u2/block", "Block"},
		{http.MethodDelete, "/relations/u2/block", "Unblock"},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			svc := new(mocks.RelationsServiceMock)
			router := testRouter(NewRelationsHandler(svc).Routes)
			svc.On(tc.op, mock.Anything, "u1", "u2").Return(nil).Once()

			rec := serve(router, tc.method, tc.path, "")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"success":true}`, rec.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func TestRelationRuleViolationIsResult(t *testing.T) {
	svc := new(mocks.RelationsServiceMock)
	router := testRouter(NewRelationsHandler(svc).Routes)
	svc.On("SendRequest", mock.Anything, "u1", "u2").Return(apperrors.ErrReciprocalRequestExists).Once()

	rec := serve(router, http.MethodPost, "/relations/u2/request", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"this user already sent you a friend request","code":"reciprocal_request_exists"}`, rec.Body.String())
}

func TestRelationTransientFailure(t *testing.T) {
	svc := new(mocks.RelationsServiceMock)
	router := testRouter(NewRelationsHandler(svc).Routes)
	svc.On("Block", mock.Anything, "u1", "u2").Return(apperrors.FromStore(docstore.ErrAborted)).Once()

	rec := serve(router, http.MethodPost, "/relations/u2/block", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"transaction_aborted"`)
}

func TestRelationStatus(t *testing.T) {
	svc := new(mocks.RelationsServiceMock)
	router := testRouter(NewRelationsHandler(svc).Routes)
	svc.On("CheckStatus", mock.Anything, "u1", "u2").Return(models.FriendshipStatus{IsFriend: true}, nil).Once()
	svc.On("CheckStatus", mock.Anything, "u1", "ghost").Return(models.FriendshipStatus{}, apperrors.ErrUserNotFound).Once()

	rec := serve(router, http.MethodGet, "/relations/u2/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_friend":true,"request_sent":false,"request_received":false,"is_blocked":false}`, rec.Body.String())

	rec = serve(router, http.MethodGet, "/relations/ghost/status", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	svc.AssertExpectations(t)
}
