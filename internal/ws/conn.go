package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabcore/internal/collab"
	"collabcore/internal/ot"
)

type Conn struct {
	ws            *websocket.Conn
	hub           *Hub
	docID         string
	participantID uint64
	displayName   string

	// sendMu 保护 send 的关闭：hub 的广播 goroutine 可能在连接
	// 退出房间快照之后仍调用 SendEnqueue
	sendMu     sync.Mutex
	sendClosed bool
	send       chan ServerMessage

	svc    *collab.Service
	sem    *collab.SemaphoreControl
	logger *zap.Logger
}

func NewConn(ws *websocket.Conn, hub *Hub, participantID uint64, displayName string, svc *collab.Service, sem *collab.SemaphoreControl, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		ws:            ws,
		hub:           hub,
		participantID: participantID,
		displayName:   displayName,
		send:          make(chan ServerMessage, 32),
		svc:           svc,
		sem:           sem,
		logger:        logger,
	}
}

// SendEnqueue 非阻塞入队，队列满则丢弃；已关闭的连接直接忽略
func (c *Conn) SendEnqueue(msg ServerMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

func (c *Conn) sendError(err error) {
	c.SendEnqueue(ServerMessage{Type: "error", Error: err.Error()})
}

// handleOpSubmit 内容提交必须限时限流：200ms 拿不到结果就报错，
// 让客户端回滚本地乐观修改
func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	opCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if c.sem != nil {
		if err := c.sem.Acquire(opCtx); err != nil {
			c.sendError(err)
			return
		}
		defer c.sem.Release()
	}

	op := ot.Op{
		Kind: ot.Kind(msg.Kind),
		Pos:  msg.Position,
		Text: msg.Text,
		Len:  msg.Length,
	}
	seq, err := c.svc.ApplyOperation(opCtx, msg.DocID, c.participantID, msg.ClientID, op)
	if err != nil {
		c.sendError(err)
		return
	}
	c.SendEnqueue(ServerMessage{Type: "op_applied", DocID: msg.DocID, Seq: seq})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.closeSend()
	defer c.drop(ctx)
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.logger.Info("read loop closed",
				zap.Uint64("participant", c.participantID), zap.String("doc", c.docID), zap.Error(err))
			return
		}
		c.handleMessage(ctx, msg)
	}
}

func (c *Conn) handleMessage(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case "join":
		doc, err := c.svc.CreateOrGetDocument(ctx, msg.SessionID)
		if err != nil {
			c.sendError(err)
			return
		}
		if err := c.svc.Join(ctx, doc.ID, c.participantID, c.displayName, msg.Color); err != nil {
			c.sendError(err)
			return
		}
		if c.docID != "" && c.docID != doc.ID {
			// 动态切换房间：先离开旧的
			c.hub.Leave(c.docID, c)
		}
		c.docID = doc.ID
		c.hub.Join(c.docID, c)
		c.SendEnqueue(ServerMessage{
			Type:    "joined",
			DocID:   doc.ID,
			Title:   doc.Title,
			Content: doc.Content,
			Version: doc.Version,
		})

	case "leave":
		if c.docID == "" {
			return
		}
		if err := c.svc.Leave(ctx, c.docID, c.participantID); err != nil {
			c.logger.Warn("leave failed", zap.Error(err))
		}
		c.hub.Leave(c.docID, c)
		c.docID = ""

	case "heartbeat":
		if c.docID == "" {
			return
		}
		// 丢一次心跳无害，失败不回错误
		if err := c.svc.Heartbeat(ctx, c.docID, c.participantID); err != nil {
			c.logger.Warn("heartbeat failed", zap.Error(err))
		}
		c.SendEnqueue(ServerMessage{Type: "heartbeat_ack", DocID: c.docID})

	case "cursor":
		if c.docID == "" {
			return
		}
		if err := c.svc.UpdateCursor(ctx, c.docID, c.participantID, msg.Position, msg.SelectionStart, msg.SelectionEnd); err != nil {
			c.logger.Warn("cursor update failed", zap.Error(err))
		}

	case "op_submit":
		c.handleOpSubmit(ctx, msg)

	case "title":
		if err := c.svc.UpdateTitle(ctx, msg.DocID, c.participantID, msg.Title); err != nil {
			c.sendError(err)
		}

	case "members":
		members, err := c.svc.ListCollaborators(ctx, c.docID)
		if err != nil {
			c.sendError(err)
			return
		}
		msgOut := ServerMessage{Type: "members", DocID: c.docID}
		for _, m := range members {
			msgOut.Members = append(msgOut.Members, memberOf(m))
		}
		c.SendEnqueue(msgOut)

	case "ops_since":
		ops, err := c.svc.OpsSince(ctx, msg.DocID, msg.FromSeq, msg.Limit)
		if err != nil {
			c.sendError(err)
			return
		}
		c.SendEnqueue(ServerMessage{Type: "ops_since", DocID: msg.DocID, Ops: ops})

	default:
		c.SendEnqueue(ServerMessage{Type: "ignored", Error: "unknown message type"})
	}
}

// drop 连接断开（没走 leave）时的兜底：退出房间但不下线成员，
// 留给过期清理处理
func (c *Conn) drop(ctx context.Context) {
	if c.docID != "" {
		c.hub.Leave(c.docID, c)
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			return
		}
	}
}
