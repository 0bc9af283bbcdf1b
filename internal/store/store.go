package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrVersionMismatch = errors.New("store: version mismatch")
)

// DocumentStore 文档行的读写。UpdateContent 带版本比较：
// baseVersion 与当前行不一致时返回 ErrVersionMismatch，由调用方重试。
type DocumentStore interface {
	CreateOrGet(ctx context.Context, sessionID string) (*Document, error)
	Get(ctx context.Context, docID string) (*Document, error)
	UpdateContent(ctx context.Context, docID, content string, editedBy uint64, baseVersion uint64) error
	UpdateTitle(ctx context.Context, docID, title string) error
}

// OperationStore 只追加的操作日志
type OperationStore interface {
	Append(ctx context.Context, op *Operation) error
	MaxSeq(ctx context.Context, docID string) (uint64, error)
	ListSince(ctx context.Context, docID string, fromSeq uint64, limit int) ([]Operation, error)
}

// CollaboratorStore 在线状态的当前态表
type CollaboratorStore interface {
	Upsert(ctx context.Context, c *Collaborator) error
	Touch(ctx context.Context, docID string, participantID uint64, seenAt time.Time) error
	Deactivate(ctx context.Context, docID string, participantID uint64, seenAt time.Time) error
	// SweepStale 把 lastSeenAt 早于 cutoff 的活跃成员全部置为不活跃，
	// 返回被清理的行，调用方据此删除对应光标。
	SweepStale(ctx context.Context, cutoff time.Time) ([]Collaborator, error)
	ListActive(ctx context.Context, docID string) ([]Collaborator, error)
}
