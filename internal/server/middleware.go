package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	HEADER_ADMIN_TOKEN = "X-Admin-Token"
	HEADER_USER_ID     = "X-User-ID"

	ctxIsAdmin  = "is_admin"
	ctxViewerID = "viewer_id"
)

// Identity reads the caller from the request headers. The user id comes from
// the authenticating proxy in front of the API; a matching admin token marks
// the caller as an admin.
func Identity(adminToken string) gin.HandlerFunc {
	adminToken = strings.TrimSpace(adminToken)
	return func(c *gin.Context) {
		c.Set(ctxViewerID, strings.TrimSpace(c.GetHeader(HEADER_USER_ID)))

		got := strings.TrimSpace(c.GetHeader(HEADER_ADMIN_TOKEN))
		isAdmin := adminToken != "" && got != "" &&
			subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) == 1
		c.Set(ctxIsAdmin, isAdmin)
		c.Next()
	}
}

// RequireAdmin protects /admin/* endpoints. It must run after Identity.
func RequireAdmin(adminToken string) gin.HandlerFunc {
	configured := strings.TrimSpace(adminToken) != ""
	return func(c *gin.Context) {
		if !configured {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin token not configured"})
			c.Abort()
			return
		}
		if !isAdmin(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireUser rejects requests without a user id.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if viewerID(c) == "" && !isAdmin(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + HEADER_USER_ID + " header"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("[Server] Request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func isAdmin(c *gin.Context) bool {
	return c.GetBool(ctxIsAdmin)
}

func viewerID(c *gin.Context) string {
	return c.GetString(ctxViewerID)
}
