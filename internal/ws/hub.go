package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"collabcore/internal/cache"
)

// Hub 维护 文档 → 连接集合 的房间表，并把通知频道的事件
// 扇出给房间里的每个连接。
// 房间里存的是连接而不是参与者：一个参与者可开多个标签页，
// 广播要逐连接发。
type Hub struct {
	notifier cache.Notifier
	logger   *zap.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	subs  map[string]cache.Subscription
}

func NewHub(notifier cache.Notifier, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		notifier: notifier,
		logger:   logger,
		rooms:    make(map[string]map[*Conn]struct{}),
		subs:     make(map[string]cache.Subscription),
	}
}

// Join 把连接加入文档房间；房间第一个连接到来时建立该文档的订阅
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}

	if _, ok := h.subs[docID]; !ok {
		sub, err := h.notifier.Subscribe(context.Background(), docID)
		if err != nil {
			h.logger.Warn("room subscribe failed", zap.String("doc", docID), zap.Error(err))
			return
		}
		h.subs[docID] = sub
		go h.pump(docID, sub)
	}
}

// Leave 把连接移出房间；房间空了就退订
func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[docID]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.rooms, docID)
		if sub, ok := h.subs[docID]; ok {
			_ = sub.Close()
			delete(h.subs, docID)
		}
	}
}

func (h *Hub) pump(docID string, sub cache.Subscription) {
	for evt := range sub.C() {
		h.Broadcast(docID, eventMessage(evt))
	}
}

func (h *Hub) Broadcast(docID string, msg ServerMessage) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[docID]))
	for c := range h.rooms[docID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.SendEnqueue(msg)
	}
}
