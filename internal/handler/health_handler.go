package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db      *gorm.DB
	streams *CommentStreamHandler
}

func NewHealthHandler(db *gorm.DB, streams *CommentStreamHandler) *HealthHandler {
	return &HealthHandler{db: db, streams: streams}
}

// Healthz always answers 200; "degraded" means the metadata database did not answer a ping.
func (h *HealthHandler) Healthz(c *gin.Context) {
	status := "ok"
	database := "up"

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := h.db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			status = "degraded"
			database = "down"
		}
	}

	body := gin.H{
		"status":   status,
		"database": database,
	}
	if h.streams != nil {
		body["live_streams"] = h.streams.ActiveStreams()
	}

	c.JSON(http.StatusOK, body)
}
