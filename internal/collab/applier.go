package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabcore/internal/cache"
	"collabcore/internal/ot"
	"collabcore/internal/store"
)

// Applier 是文档内容唯一的权威修改点。
//
// 同一文档的所有修改必须串行化，这里用两层保护：
// - 进程内：每文档一把互斥锁（docState.mu）
// - 跨进程：写回时比较 Document.Version，不一致重试，
//   重试耗尽返回 ErrStaleApply
type Applier struct {
	mu     sync.Mutex
	states map[string]*docState

	docs       store.DocumentStore
	opsLog     store.OperationStore
	notifier   cache.Notifier
	dispatcher *KafkaDispatcher // 可选
	logger     *zap.Logger

	maxCASRetry int
}

type docState struct {
	mu      sync.Mutex
	seeded  bool
	nextSeq uint64
}

func NewApplier(docs store.DocumentStore, opsLog store.OperationStore, notifier cache.Notifier, dispatcher *KafkaDispatcher, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		states:      make(map[string]*docState),
		docs:        docs,
		opsLog:      opsLog,
		notifier:    notifier,
		dispatcher:  dispatcher,
		logger:      logger,
		maxCASRetry: 3,
	}
}

func (a *Applier) getOrCreateState(docID string) *docState {
	a.mu.Lock()
	defer a.mu.Unlock()
	ds := a.states[docID]
	if ds == nil {
		ds = &docState{}
		a.states[docID] = ds
	}
	return ds
}

// Apply 应用一次操作并返回分配的序列号。
// 序列号在应用时分配（不是提交时），按文档严格递增、无空洞。
func (a *Applier) Apply(ctx context.Context, docID string, authorID uint64, clientID string, op ot.Op) (uint64, error) {
	ds := a.getOrCreateState(docID)
	ds.mu.Lock()
	defer ds.mu.Unlock()

	var (
		doc        *store.Document
		newContent string
		err        error
	)
	for attempt := 0; ; attempt++ {
		doc, err = a.docs.Get(ctx, docID)
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
		}
		if err != nil {
			return 0, fmt.Errorf("%w: read document: %v", ErrTransientStore, err)
		}

		newContent, err = op.Apply(doc.Content)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
		}

		err = a.docs.UpdateContent(ctx, docID, newContent, authorID, doc.Version)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrVersionMismatch) {
			if attempt >= a.maxCASRetry {
				return 0, fmt.Errorf("%w: doc %s after %d attempts", ErrStaleApply, docID, attempt+1)
			}
			// 并发写抢先推进了版本，重读内容再算一次
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
		}
		return 0, fmt.Errorf("%w: write document: %v", ErrTransientStore, err)
	}

	if !ds.seeded {
		max, err := a.opsLog.MaxSeq(ctx, docID)
		if err != nil {
			return 0, fmt.Errorf("%w: seed sequence: %v", ErrTransientStore, err)
		}
		ds.nextSeq = max
		ds.seeded = true
	}
	// 序列号在追加成功后才落定，失败不占号，序列不留空洞
	seq := ds.nextSeq + 1

	now := time.Now()
	row := &store.Operation{
		ID:        uuid.NewString(),
		DocID:     docID,
		Seq:       seq,
		AuthorID:  authorID,
		Kind:      string(op.Kind),
		Position:  op.Pos,
		Text:      op.Text,
		Length:    op.Len,
		CreatedAt: now,
	}
	if err := a.opsLog.Append(ctx, row); err != nil {
		// 内容已落盘而日志没有：回放会缺一条，必须让提交方感知
		return 0, fmt.Errorf("%w: append operation: %v", ErrTransientStore, err)
	}
	ds.nextSeq = seq

	a.publish(ctx, doc, newContent, authorID, clientID, row)

	if a.dispatcher != nil {
		evt := DocOpEvent{
			EventType:   "OP_APPLIED",
			DocID:       docID,
			OperationID: row.ID,
			Seq:         seq,
			AuthorID:    authorID,
			ClientID:    clientID,
			Kind:        row.Kind,
			Position:    row.Position,
			Text:        row.Text,
			Length:      row.Length,
			AppliedAt:   now,
		}
		if err := a.dispatcher.Enqueue(ctx, evt); err != nil {
			a.logger.Warn("kafka enqueue failed", zap.String("doc", docID), zap.Uint64("seq", seq), zap.Error(err))
		}
	}

	return seq, nil
}

func (a *Applier) publish(ctx context.Context, doc *store.Document, newContent string, authorID uint64, clientID string, row *store.Operation) {
	if a.notifier == nil {
		return
	}
	opEvt := cache.Event{
		Kind:  cache.EventOp,
		DocID: doc.ID,
		Op: &cache.OpPayload{
			OperationID: row.ID,
			Seq:         row.Seq,
			AuthorID:    authorID,
			ClientID:    clientID,
			Kind:        row.Kind,
			Position:    row.Position,
			Text:        row.Text,
			Length:      row.Length,
			AppliedAt:   row.CreatedAt,
		},
	}
	if err := a.notifier.Publish(ctx, opEvt); err != nil {
		a.logger.Warn("publish op event failed", zap.String("doc", doc.ID), zap.Error(err))
	}
	contentEvt := cache.Event{
		Kind:  cache.EventContent,
		DocID: doc.ID,
		Content: &cache.ContentPayload{
			Title:        doc.Title,
			Content:      newContent,
			Version:      doc.Version + 1,
			LastEditedBy: &authorID,
		},
	}
	if err := a.notifier.Publish(ctx, contentEvt); err != nil {
		a.logger.Warn("publish content event failed", zap.String("doc", doc.ID), zap.Error(err))
	}
}
