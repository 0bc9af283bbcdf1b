package ws

import (
	"collabcore/internal/cache"
	"collabcore/internal/store"
)

type ClientMessage struct {
	Type      string `json:"type"`
	DocID     string `json:"docId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// join
	DisplayName string `json:"displayName,omitempty"`
	Color       string `json:"color,omitempty"`

	// cursor
	Position       int  `json:"position,omitempty"`
	SelectionStart *int `json:"selectionStart,omitempty"`
	SelectionEnd   *int `json:"selectionEnd,omitempty"`

	// op_submit
	Kind   string `json:"kind,omitempty"`
	Text   string `json:"text,omitempty"`
	Length int    `json:"length,omitempty"`
	// 客户端实例标识。同一用户可有多个 clientId（多端/多标签页）。
	ClientID string `json:"clientId,omitempty"`

	// title
	Title string `json:"title,omitempty"`

	// ops_since
	FromSeq uint64 `json:"fromSeq,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type ServerMessage struct {
	Type    string            `json:"type"`
	DocID   string            `json:"docId,omitempty"`
	Seq     uint64            `json:"seq,omitempty"`
	Title   string            `json:"title,omitempty"`
	Content string            `json:"content,omitempty"`
	Version uint64            `json:"version,omitempty"`
	Op      *cache.OpPayload  `json:"op,omitempty"`
	Cursor  *cache.Cursor     `json:"cursor,omitempty"`
	Members []cache.Member    `json:"members,omitempty"`
	Ops     []store.Operation `json:"ops,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// eventMessage 把通知事件转成出站消息
func eventMessage(evt cache.Event) ServerMessage {
	msg := ServerMessage{Type: string(evt.Kind), DocID: evt.DocID}
	switch evt.Kind {
	case cache.EventContent:
		if evt.Content != nil {
			msg.Title = evt.Content.Title
			msg.Content = evt.Content.Content
			msg.Version = evt.Content.Version
		}
	case cache.EventOp:
		msg.Op = evt.Op
	case cache.EventCursor:
		msg.Cursor = evt.Cursor
	case cache.EventMembers:
		msg.Members = evt.Members
	}
	return msg
}
