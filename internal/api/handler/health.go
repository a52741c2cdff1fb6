package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// ConnectionCounter 在线 WebSocket 连接数
type ConnectionCounter interface {
	ConnectionCount() int
}

type HealthHandler struct {
	redis *redis.Client
	db    *gorm.DB
	conns ConnectionCounter
}

// NewHealthHandler db 为 nil 表示未启用审计库
func NewHealthHandler(client *redis.Client, db *gorm.DB, conns ConnectionCounter) *HealthHandler {
	return &HealthHandler{redis: client, db: db, conns: conns}
}

// Check 存活检查
// GET /healthz
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := gin.H{"redis": "ok"}
	healthy := true

	if err := h.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	if h.db != nil {
		checks["database"] = "ok"
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":               healthy,
		"checks":                checks,
		"websocket_connections": h.conns.ConnectionCount(),
	})
}
