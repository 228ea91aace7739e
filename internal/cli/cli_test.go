package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/middleware"
	"chatsync/internal/mocks"
	"chatsync/internal/models"
)

func testDeps() (routerDeps, *mocks.AccountsServiceMock) {
	gin.SetMode(gin.TestMode)
	acc := new(mocks.AccountsServiceMock)
	return routerDeps{
		service:   "chatsync-test",
		log:       logrus.NewEntry(logrus.New()),
		auth:      middleware.NewAuthenticator("secret", time.Hour),
		accounts:  acc,
		relations: new(mocks.RelationsServiceMock),
		chats:     new(mocks.ChatsServiceMock),
	}, acc
}

func TestRouterPublicEndpoints(t *testing.T) {
	deps, _ := testDeps()
	router := newRouter(deps)

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterRequiresToken(t *testing.T) {
	deps, acc := testDeps()
	router := newRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := deps.auth.Issue("u1")
	require.NoError(t, err)
	acc.On("Profile", mock.Anything, "u1").Return(models.User{ID: "u1"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	acc.AssertExpectations(t)
}

func TestRouterDebugRoutesOff(t *testing.T) {
	deps, _ := testDeps()
	router := newRouter(deps)
	token, _ := deps.auth.Issue("u1")

	req := httptest.NewRequest(http.MethodGet, "/debug/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["token"])
}

func TestTokenCommandIssuesValidToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CONFIG_FILE", "")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "u42"})
	require.NoError(t, root.Execute())

	userID, _, err := middleware.NewAuthenticator("cli-secret", time.Hour).Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "u42", userID)
}
