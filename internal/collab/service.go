package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"collabcore/internal/cache"
	"collabcore/internal/ot"
	"collabcore/internal/store"
)

// Authorizer 判断参与者是否有权写某个文档所属的协作会话。
// 鉴权本身在别的服务里，这里只留一个注入点。
type Authorizer interface {
	Authorize(ctx context.Context, docID string, participantID uint64) error
}

// AllowAll 默认放行
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, docID string, participantID uint64) error { return nil }

const (
	defaultStaleAfter = 5 * time.Minute
	defaultCursorTTL  = 60 * time.Second
)

type ServiceOptions struct {
	StaleAfter time.Duration // 心跳过期阈值
	CursorTTL  time.Duration // 光标键 TTL
}

// Service 对外暴露协作核心的全部操作：
// 文档建取、操作应用、光标上报、成员生命周期、标题、过期清理。
type Service struct {
	docs     store.DocumentStore
	opsLog   store.OperationStore
	members  store.CollaboratorStore
	cursors  cache.CursorCache
	notifier cache.Notifier
	applier  *Applier
	auth     Authorizer
	logger   *zap.Logger

	staleAfter time.Duration
	cursorTTL  time.Duration
}

func NewService(
	docs store.DocumentStore,
	opsLog store.OperationStore,
	members store.CollaboratorStore,
	cursors cache.CursorCache,
	notifier cache.Notifier,
	applier *Applier,
	auth Authorizer,
	logger *zap.Logger,
	opt ServiceOptions,
) *Service {
	if auth == nil {
		auth = AllowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opt.StaleAfter <= 0 {
		opt.StaleAfter = defaultStaleAfter
	}
	if opt.CursorTTL <= 0 {
		opt.CursorTTL = defaultCursorTTL
	}
	return &Service{
		docs:       docs,
		opsLog:     opsLog,
		members:    members,
		cursors:    cursors,
		notifier:   notifier,
		applier:    applier,
		auth:       auth,
		logger:     logger,
		staleAfter: opt.StaleAfter,
		cursorTTL:  opt.CursorTTL,
	}
}

// CreateOrGetDocument 按会话惰性建文档，幂等
func (s *Service) CreateOrGetDocument(ctx context.Context, sessionID string) (*store.Document, error) {
	d, err := s.docs.CreateOrGet(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: create-or-get document: %v", ErrTransientStore, err)
	}
	return d, nil
}

func (s *Service) GetDocument(ctx context.Context, docID string) (*store.Document, error) {
	d, err := s.docs.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return d, nil
}

// ApplyOperation 唯一的内容修改入口
func (s *Service) ApplyOperation(ctx context.Context, docID string, authorID uint64, clientID string, op ot.Op) (uint64, error) {
	if err := s.auth.Authorize(ctx, docID, authorID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	return s.applier.Apply(ctx, docID, authorID, clientID, op)
}

// Join 成员加入：建行并广播成员变化
func (s *Service) Join(ctx context.Context, docID string, participantID uint64, displayName, color string) error {
	if err := s.auth.Authorize(ctx, docID, participantID); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	if _, err := s.GetDocument(ctx, docID); err != nil {
		return err
	}
	c := &store.Collaborator{
		DocID:         docID,
		ParticipantID: participantID,
		DisplayName:   displayName,
		Color:         color,
		IsActive:      true,
		LastSeenAt:    time.Now(),
	}
	if err := s.members.Upsert(ctx, c); err != nil {
		return fmt.Errorf("%w: join: %v", ErrTransientStore, err)
	}
	s.publishMembers(ctx, docID)
	return nil
}

// Leave 成员离开：置不活跃、删光标、广播
func (s *Service) Leave(ctx context.Context, docID string, participantID uint64) error {
	if err := s.members.Deactivate(ctx, docID, participantID, time.Now()); err != nil {
		return fmt.Errorf("%w: leave: %v", ErrTransientStore, err)
	}
	// 人不在了，光标没有意义
	if err := s.cursors.Delete(ctx, docID, participantID); err != nil {
		s.logger.Warn("delete cursor on leave failed", zap.String("doc", docID), zap.Uint64("participant", participantID), zap.Error(err))
	}
	s.publishMembers(ctx, docID)
	return nil
}

// Heartbeat 刷新 lastSeenAt。失败只记日志：丢一次心跳无所谓。
func (s *Service) Heartbeat(ctx context.Context, docID string, participantID uint64) error {
	err := s.members.Touch(ctx, docID, participantID, time.Now())
	if errors.Is(err, store.ErrNotFound) {
		// 被 sweep 清掉后的心跳视为重新加入前的空转
		return nil
	}
	if err != nil {
		s.logger.Warn("heartbeat failed", zap.String("doc", docID), zap.Uint64("participant", participantID), zap.Error(err))
		return fmt.Errorf("%w: heartbeat: %v", ErrTransientStore, err)
	}
	return nil
}

// UpdateCursor 上报光标/选区。不进操作日志，不占序列号。
// 客户端应按 ~100ms 去抖，这里不做限流。
func (s *Service) UpdateCursor(ctx context.Context, docID string, participantID uint64, position int, selStart, selEnd *int) error {
	cur := cache.Cursor{
		DocID:          docID,
		ParticipantID:  participantID,
		Position:       position,
		SelectionStart: selStart,
		SelectionEnd:   selEnd,
		UpdatedAt:      time.Now(),
	}
	if err := s.cursors.Set(ctx, cur, s.cursorTTL); err != nil {
		s.logger.Warn("cursor set failed", zap.String("doc", docID), zap.Uint64("participant", participantID), zap.Error(err))
		return fmt.Errorf("%w: cursor: %v", ErrTransientStore, err)
	}
	evt := cache.Event{Kind: cache.EventCursor, DocID: docID, Cursor: &cur}
	if err := s.notifier.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish cursor event failed", zap.String("doc", docID), zap.Error(err))
	}
	return nil
}

func (s *Service) ListCollaborators(ctx context.Context, docID string) ([]store.Collaborator, error) {
	out, err := s.members.ListActive(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("%w: list collaborators: %v", ErrTransientStore, err)
	}
	return out, nil
}

func (s *Service) ListCursors(ctx context.Context, docID string) ([]cache.Cursor, error) {
	out, err := s.cursors.List(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("%w: list cursors: %v", ErrTransientStore, err)
	}
	return out, nil
}

// UpdateTitle 只改元数据，绕过操作日志，不触碰 content
func (s *Service) UpdateTitle(ctx context.Context, docID string, participantID uint64, title string) error {
	if err := s.auth.Authorize(ctx, docID, participantID); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	err := s.docs.UpdateTitle(ctx, docID, title)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
	}
	if err != nil {
		return fmt.Errorf("%w: update title: %v", ErrTransientStore, err)
	}
	if doc, err := s.docs.Get(ctx, docID); err == nil {
		evt := cache.Event{
			Kind:  cache.EventContent,
			DocID: docID,
			Content: &cache.ContentPayload{
				Title:        doc.Title,
				Content:      doc.Content,
				Version:      doc.Version,
				LastEditedBy: doc.LastEditedBy,
			},
		}
		if err := s.notifier.Publish(ctx, evt); err != nil {
			s.logger.Warn("publish title event failed", zap.String("doc", docID), zap.Error(err))
		}
	}
	return nil
}

// OpsSince 返回某序号之后的日志，断线追平用
func (s *Service) OpsSince(ctx context.Context, docID string, fromSeq uint64, limit int) ([]store.Operation, error) {
	out, err := s.opsLog.ListSince(ctx, docID, fromSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: ops since: %v", ErrTransientStore, err)
	}
	return out, nil
}

// SweepStaleCollaborators 周期维护：清理心跳过期的成员及其光标，
// 返回清理数量。补偿没走 Leave 就断线的参与者（关标签页、断网）。
func (s *Service) SweepStaleCollaborators(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.members.SweepStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrTransientStore, err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	affected := make(map[string]bool)
	for _, c := range stale {
		if err := s.cursors.Delete(ctx, c.DocID, c.ParticipantID); err != nil {
			s.logger.Warn("delete cursor on sweep failed", zap.String("doc", c.DocID), zap.Uint64("participant", c.ParticipantID), zap.Error(err))
		}
		affected[c.DocID] = true
	}
	for docID := range affected {
		s.publishMembers(ctx, docID)
	}
	s.logger.Info("swept stale collaborators", zap.Int("count", len(stale)))
	return len(stale), nil
}

// RunSweeper 按固定间隔执行清理，直到 ctx 取消。
// 单次失败不中断，留到下一轮再试。
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepStaleCollaborators(ctx); err != nil {
				s.logger.Warn("sweep run failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) publishMembers(ctx context.Context, docID string) {
	active, err := s.members.ListActive(ctx, docID)
	if err != nil {
		s.logger.Warn("list active for broadcast failed", zap.String("doc", docID), zap.Error(err))
		return
	}
	members := make([]cache.Member, len(active))
	for i, c := range active {
		members[i] = cache.Member{
			ParticipantID: c.ParticipantID,
			DisplayName:   c.DisplayName,
			Color:         c.Color,
			LastSeenAt:    c.LastSeenAt,
		}
	}
	evt := cache.Event{Kind: cache.EventMembers, DocID: docID, Members: members}
	if err := s.notifier.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish members event failed", zap.String("doc", docID), zap.Error(err))
	}
}
