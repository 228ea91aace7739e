package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/apperrors"
)

func statusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindPermission:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondResult answers a mutation with {success, error?, code?}. Rule
// violations are results and keep status 200.
func respondResult(c *gin.Context, err error) {
	status := http.StatusOK
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindInternal, apperrors.KindTransient:
			_ = c.Error(err)
			status = statusFor(err)
		}
	}
	c.JSON(status, apperrors.ResultOf(err))
}

// respondError answers a read that failed.
func respondError(c *gin.Context, err error) {
	res := apperrors.ResultOf(err)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": res.Error, "code": res.Code})
}
