package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/accounts"
	"chatsync/internal/apperrors"
	"chatsync/internal/mocks"
	"chatsync/internal/models"
)

func TestAccountRegister(t *testing.T) {
	svc := new(mocks.AccountsServiceMock)
	router := testRouter(NewAccountHandler(svc).Routes)
	svc.On("Register", mock.Anything, "u1", accounts.Registration{DisplayName: "Ada"}).Return(models.User{ID: "u1", DisplayName: "Ada"}, nil).Once()

	rec := serve(router, http.MethodPost, "/me", `{"display_name":"Ada"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"display_name":"Ada"`)

	rec = serve(router, http.MethodPost, "/me", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertExpectations(t)
}

func TestAccountRegisterTwice(t *testing.T) {
	svc := new(mocks.AccountsServiceMock)
	router := testRouter(NewAccountHandler(svc).Routes)
	svc.On("Register", mock.Anything, "u1", mock.Anything).Return(models.User{}, apperrors.ErrUserExists).Once()

	rec := serve(router, http.MethodPost, "/me", `{"display_name":"Ada"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestAccountProfileAndUpdate(t *testing.T) {
	svc := new(mocks.AccountsServiceMock)
	router := testRouter(NewAccountHandler(svc).Routes)
	svc.On("Profile", mock.Anything, "u1").Return(models.User{ID: "u1", Bio: "old"}, nil).Once()
	svc.On("UpdateProfile", mock.Anything, "u1", mock.MatchedBy(func(in accounts.ProfileUpdate) bool {
		return in.Bio != nil && *in.Bio == "new" && in.DisplayName == nil
	})).Return(models.User{ID: "u1", Bio: "new"}, nil).Once()

	rec := serve(router, http.MethodGet, "/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bio":"old"`)

	rec = serve(router, http.MethodPatch, "/me", `{"bio":"new"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bio":"new"`)
	svc.AssertExpectations(t)
}

func TestAccountDelete(t *testing.T) {
	svc := new(mocks.AccountsServiceMock)
	router := testRouter(NewAccountHandler(svc).Routes)
	svc.On("Delete", mock.Anything, "u1").Return(nil).Once()

	rec := serve(router, http.MethodDelete, "/me", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	ok := testRouter(func(r gin.IRoutes) { r.GET("/healthz", Health(nil)) })
	require.Equal(t, http.StatusOK, serve(ok, http.MethodGet, "/healthz", "").Code)

	down := testRouter(func(r gin.IRoutes) {
		r.GET("/healthz", Health(func(context.Context) error { return errors.New("db down") }))
	})
	rec := serve(down, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}
