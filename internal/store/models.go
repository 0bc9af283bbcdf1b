package store

import "time"

// Document 每个协作会话至多一行，content 是唯一权威内容。
// Version 是乐观并发令牌：写回时与读取时的值比较，不一致说明
// 发生了并发修改（见 DocumentStore.UpdateContent）。
type Document struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID    string    `gorm:"uniqueIndex;size:36;column:session_id" json:"sessionId"`
	Title        string    `gorm:"size:255" json:"title"`
	Content      string    `gorm:"type:longtext" json:"content"`
	LastEditedBy *uint64   `gorm:"column:last_edited_by" json:"lastEditedBy"`
	Version      uint64    `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Operation 是只追加的编辑日志行，落盘后不可变。
// Seq 在应用时分配，按文档严格递增，定义该文档的全序。
type Operation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	DocID     string    `gorm:"index:idx_doc_seq,unique,priority:1;size:36;column:doc_id" json:"docId"`
	Seq       uint64    `gorm:"index:idx_doc_seq,unique,priority:2" json:"seq"`
	AuthorID  uint64    `gorm:"column:author_id" json:"authorId"`
	Kind      string    `gorm:"size:16" json:"kind"`
	Position  int       `json:"position"`
	Text      string    `gorm:"type:text" json:"text,omitempty"`
	Length    int       `json:"length,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Collaborator 是当前态表（不是日志）：每个 (文档, 参与者) 一行，
// join/heartbeat 原地覆盖，leave/sweep 置 IsActive=false，不做硬删除。
type Collaborator struct {
	DocID         string    `gorm:"primaryKey;size:36;column:doc_id" json:"docId"`
	ParticipantID uint64    `gorm:"primaryKey;column:participant_id" json:"participantId"`
	DisplayName   string    `gorm:"size:128" json:"displayName"`
	Color         string    `gorm:"size:32" json:"color"`
	IsActive      bool      `gorm:"column:is_active" json:"isActive"`
	LastSeenAt    time.Time `gorm:"column:last_seen_at" json:"lastSeenAt"`
}
