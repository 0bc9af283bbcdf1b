package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabcore/internal/cache"
	"collabcore/internal/collab"
	"collabcore/internal/store"
)

// 允许本地开发环境的来源
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	hub    *Hub
	svc    *collab.Service
	sem    *collab.SemaphoreControl
	logger *zap.Logger
}

func NewManager(hub *Hub, svc *collab.Service, sem *collab.SemaphoreControl, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{hub: hub, svc: svc, sem: sem, logger: logger}
}

// WebSocketConnect 升级连接并进入读写循环（阻塞至连接关闭）
func (m *Manager) WebSocketConnect(c *gin.Context) {
	participantID := c.GetUint64("participantId")
	displayName := c.GetString("displayName")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed",
			zap.String("origin", c.Request.Header.Get("Origin")), zap.Error(err))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, participantID, displayName, m.svc, m.sem, m.logger)

	// 先启动写循环，保证后续入队的消息能及时发出
	go wsConn.writeLoop()
	wsConn.SendEnqueue(ServerMessage{Type: "welcome"})
	wsConn.readLoop(c.Request.Context())
}

func memberOf(c store.Collaborator) cache.Member {
	return cache.Member{
		ParticipantID: c.ParticipantID,
		DisplayName:   c.DisplayName,
		Color:         c.Color,
		LastSeenAt:    c.LastSeenAt,
	}
}
