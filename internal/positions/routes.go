package positions

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/internal/reconcile"
)

// Routes mounts the user position endpoints and the operator surface.
func Routes(router *gin.RouterGroup, service *Service, unmatched *reconcile.UnmatchedLedger, logger *zap.Logger) {
	handler := NewHandler(service, logger)

	api := router.Group("/api/v1")
	{
		api.POST("/positions", handler.CreateHandler)
		api.GET("/positions", handler.ListHandler)
		api.GET("/positions/:id", handler.GetHandler)
		api.POST("/positions/:id/cancel", handler.CancelHandler)

		api.GET("/ops/unmatched", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
			offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
			if limit <= 0 || limit > 200 {
				limit = 50
			}
			rows, total, err := unmatched.List(c.Request.Context(), limit, offset)
			if err != nil {
				logger.Error("failed to list unmatched events", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "LIST_FAILED"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"events": rows,
				"total":  total,
				"limit":  limit,
				"offset": offset,
			})
		})
	}
}
