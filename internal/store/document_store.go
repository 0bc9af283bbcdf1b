package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

type MySQLDocumentStore struct{ db *sql.DB }

func NewMySQLDocumentStore(db *sql.DB) *MySQLDocumentStore {
	return &MySQLDocumentStore{db: db}
}

func (s *MySQLDocumentStore) getBySession(ctx context.Context, sessionID string) (*Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, title, content, last_edited_by, version, created_at, updated_at
		 FROM documents WHERE session_id = ?`,
		sessionID,
	).Scan(&d.ID, &d.SessionID, &d.Title, &d.Content, &d.LastEditedBy, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateOrGet 按会话惰性建文档（幂等）：
// 先查，不存在则插入；并发插入撞唯一键（1062）时回读即可。
func (s *MySQLDocumentStore) CreateOrGet(ctx context.Context, sessionID string) (*Document, error) {
	d, err := s.getBySession(ctx, sessionID)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, session_id, title, content, last_edited_by, version, created_at, updated_at)
		 VALUES (?, ?, '', '', NULL, 0, ?, ?)`,
		uuid.NewString(), sessionID, now, now,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 另一个调用方抢先创建了同会话的文档
			return s.getBySession(ctx, sessionID)
		}
		return nil, err
	}
	return s.getBySession(ctx, sessionID)
}

func (s *MySQLDocumentStore) Get(ctx context.Context, docID string) (*Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, title, content, last_edited_by, version, created_at, updated_at
		 FROM documents WHERE id = ?`,
		docID,
	).Scan(&d.ID, &d.SessionID, &d.Title, &d.Content, &d.LastEditedBy, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateContent 带版本比较的条件写：WHERE version = baseVersion，
// 没命中说明有并发写抢先，返回 ErrVersionMismatch
func (s *MySQLDocumentStore) UpdateContent(ctx context.Context, docID, content string, editedBy uint64, baseVersion uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, last_edited_by = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		content, editedBy, time.Now(), docID, baseVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, docID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return fmt.Errorf("%w: doc %s base version %d", ErrVersionMismatch, docID, baseVersion)
	}
	return nil
}

func (s *MySQLDocumentStore) UpdateTitle(ctx context.Context, docID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now(), docID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		if _, err := s.Get(ctx, docID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		// title 与原值相同也会报 0 行，视为成功
	}
	return nil
}
