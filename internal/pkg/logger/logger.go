package logger

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/config"
)

// New 根据配置创建 logrus 日志器
func New(cfg config.LogConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

func NewWithOutput(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	return log
}

// GinLogger 请求日志中间件
func GinLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Info("request")
	}
}
