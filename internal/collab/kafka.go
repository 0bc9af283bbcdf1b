package collab

import "time"

// DocOpEvent 导出到 Kafka 的日志事件，按 docId 做 key 便于按文档分区
type DocOpEvent struct {
	EventType   string    `json:"eventType"` // 固定 "OP_APPLIED"
	DocID       string    `json:"docId"`
	OperationID string    `json:"operationId"`
	Seq         uint64    `json:"seq"`
	AuthorID    uint64    `json:"authorId"`
	ClientID    string    `json:"clientId,omitempty"`
	Kind        string    `json:"kind"`
	Position    int       `json:"position"`
	Text        string    `json:"text,omitempty"`
	Length      int       `json:"length,omitempty"`
	AppliedAt   time.Time `json:"appliedAt"`
}
