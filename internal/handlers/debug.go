package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/middleware"
	"chatsync/internal/telemetry"
)

// SessionCounter reports how many sync sessions a user has open.
type SessionCounter func(userID string) int

// RegisterDebugRoutes wires the debug endpoints when enabled. Both act on the
// authenticated caller only.
func RegisterDebugRoutes(r gin.IRoutes, emitter *telemetry.AuditEmitter, sessions SessionCounter, enabled bool) {
	if !enabled {
		return
	}

	r.POST("/debug/audit", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Record(c.Request.Context(), telemetry.AuditRecord{
			Level:   telemetry.AuditWarn,
			Action:  "debug.audit_probe",
			ActorID: middleware.UserID(c),
			Text:    "manual audit probe",
		})
		c.JSON(http.StatusAccepted, gin.H{"recorded": true})
	})

	r.GET("/debug/sessions", func(c *gin.Context) {
		userID := middleware.UserID(c)
		n := 0
		if sessions != nil {
			n = sessions(userID)
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "sessions": n})
	})
}
