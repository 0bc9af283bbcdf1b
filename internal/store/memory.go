package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 内存实现：持有所有文档/日志/成员的状态。
// 单进程部署和测试用，语义与 MySQL 实现一致。

type MemoryDocumentStore struct {
	mu        sync.RWMutex
	bySession map[string]string // sessionID -> docID
	docs      map[string]*Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		bySession: make(map[string]string),
		docs:      make(map[string]*Document),
	}
}

func (s *MemoryDocumentStore) CreateOrGet(ctx context.Context, sessionID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySession[sessionID]; ok {
		d := *s.docs[id]
		return &d, nil
	}
	now := time.Now()
	d := &Document{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.bySession[sessionID] = d.ID
	s.docs[d.ID] = d
	cp := *d
	return &cp, nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, docID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[docID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryDocumentStore) UpdateContent(ctx context.Context, docID, content string, editedBy uint64, baseVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return ErrNotFound
	}
	if d.Version != baseVersion {
		return fmt.Errorf("%w: doc %s base version %d, current %d", ErrVersionMismatch, docID, baseVersion, d.Version)
	}
	d.Content = content
	d.LastEditedBy = &editedBy
	d.Version++
	d.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryDocumentStore) UpdateTitle(ctx context.Context, docID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return ErrNotFound
	}
	d.Title = title
	d.UpdatedAt = time.Now()
	return nil
}

type MemoryOperationStore struct {
	mu    sync.RWMutex
	byDoc map[string][]Operation
}

func NewMemoryOperationStore() *MemoryOperationStore {
	return &MemoryOperationStore{byDoc: make(map[string][]Operation)}
}

func (s *MemoryOperationStore) Append(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byDoc[op.DocID] {
		if existing.Seq == op.Seq {
			return fmt.Errorf("duplicate seq %d for doc %s", op.Seq, op.DocID)
		}
	}
	s.byDoc[op.DocID] = append(s.byDoc[op.DocID], *op)
	return nil
}

func (s *MemoryOperationStore) MaxSeq(ctx context.Context, docID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max uint64
	for _, op := range s.byDoc[docID] {
		if op.Seq > max {
			max = op.Seq
		}
	}
	return max, nil
}

func (s *MemoryOperationStore) ListSince(ctx context.Context, docID string, fromSeq uint64, limit int) ([]Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Operation
	for _, op := range s.byDoc[docID] {
		if op.Seq > fromSeq {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memberKey struct {
	docID         string
	participantID uint64
}

type MemoryCollaboratorStore struct {
	mu      sync.RWMutex
	members map[memberKey]*Collaborator
}

func NewMemoryCollaboratorStore() *MemoryCollaboratorStore {
	return &MemoryCollaboratorStore{members: make(map[memberKey]*Collaborator)}
}

func (s *MemoryCollaboratorStore) Upsert(ctx context.Context, c *Collaborator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.members[memberKey{c.DocID, c.ParticipantID}] = &cp
	return nil
}

func (s *MemoryCollaboratorStore) Touch(ctx context.Context, docID string, participantID uint64, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.members[memberKey{docID, participantID}]
	if !ok {
		return ErrNotFound
	}
	c.LastSeenAt = seenAt
	c.IsActive = true
	return nil
}

func (s *MemoryCollaboratorStore) Deactivate(ctx context.Context, docID string, participantID uint64, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.members[memberKey{docID, participantID}]; ok {
		c.IsActive = false
		c.LastSeenAt = seenAt
	}
	return nil
}

func (s *MemoryCollaboratorStore) SweepStale(ctx context.Context, cutoff time.Time) ([]Collaborator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []Collaborator
	for _, c := range s.members {
		if c.IsActive && c.LastSeenAt.Before(cutoff) {
			c.IsActive = false
			stale = append(stale, *c)
		}
	}
	return stale, nil
}

func (s *MemoryCollaboratorStore) ListActive(ctx context.Context, docID string) ([]Collaborator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Collaborator
	for _, c := range s.members {
		if c.DocID == docID && c.IsActive {
			out = append(out, *c)
		}
	}
	// 最近活跃的排在前面
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}
