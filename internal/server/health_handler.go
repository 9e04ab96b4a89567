package server

import (
	"github.com/gin-gonic/gin"
	"github.com/martinmaurice/erpgate/internal/server/middleware"
	"log/slog"
	"net/http"
)

func healthHandler(ctx *gin.Context) {
	logger := slog.With("handler", "health")
	if queueTime, ok := middleware.QueueTime(ctx); ok {
		logger.Debug("Queue Time (µs)", "queueTime", queueTime.Microseconds())
	}

	ctx.JSON(http.StatusOK, gin.H{"success": true})
}
