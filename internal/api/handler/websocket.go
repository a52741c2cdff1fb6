package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/internal/api/middleware"
	"github.com/qs3c/meter_pay_server/internal/pkg/response"
	"github.com/qs3c/meter_pay_server/internal/pkg/ws"
)

type WebSocketHandler struct {
	hub      *ws.Hub
	tokens   middleware.TokenResolver
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewWebSocketHandler allowedOrigins 为空或包含 * 时不校验 Origin
func NewWebSocketHandler(hub *ws.Hub, tokens middleware.TokenResolver, allowedOrigins []string, log logrus.FieldLogger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Handle WebSocket 连接处理，推送分析进度
// GET /api/v1/ws?token=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.AuthError(c, "请提供认证信息")
		return
	}

	user, err := h.tokens.Resolve(c.Request.Context(), token)
	if err != nil {
		response.Fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithField("user_id", user.ID).WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &ws.Client{
		UserID: user.ID,
		Conn:   conn,
	}
	h.hub.Register(client)

	// 只读不处理，用于检测断开
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
