package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthRouter(auth *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(auth), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func TestIssueAndValidate(t *testing.T) {
	auth := NewAuthenticator("secret", time.Hour)
	token, err := auth.Issue("u1")
	require.NoError(t, err)

	userID, exp, err := auth.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)
}

func TestValidateRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator("secret", time.Hour)
	other := NewAuthenticator("other", time.Hour)
	foreign, _ := other.Issue("u1")

	_, _, err := auth.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewAuthenticator("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Issue("u1")
	_, _, err = auth.Validate(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	_, _, err = auth.Validate(none)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthMiddleware(t *testing.T) {
	auth := NewAuthenticator("secret", time.Hour)
	router := setupAuthRouter(auth)
	token, _ := auth.Issue("u1")

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"invalid", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"u1"`)
			}
		})
	}
}
