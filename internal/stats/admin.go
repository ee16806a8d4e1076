package stats

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/portfolio/internal/logging"
)

// AdminAuth checks "Authorization: Bearer <token>" in constant time.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// SetupAdminRoutes registers the metrics endpoints under /admin/api.
func SetupAdminRoutes(r gin.IRouter, store *Store, token string, retention time.Duration, logger *logging.Logger) {
	admin := r.Group("/admin/api")
	admin.Use(AdminAuth(token))

	admin.GET("/stats", func(c *gin.Context) {
		summary, err := store.Summary(c.Request.Context())
		if err != nil {
			logger.Error("Error loading contact stats: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load statistics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	admin.POST("/prune", func(c *gin.Context) {
		deleted, err := store.Prune(c.Request.Context(), retention)
		if err != nil {
			logger.Error("Error pruning contact stats: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to prune statistics"})
			return
		}
		logger.Info("Contact stats pruned by %s", store.HashIP(c.ClientIP()))
		c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
	})
}
