package store

import (
	"context"
	"database/sql"
	"time"
)

type MySQLCollaboratorStore struct{ db *sql.DB }

func NewMySQLCollaboratorStore(db *sql.DB) *MySQLCollaboratorStore {
	return &MySQLCollaboratorStore{db: db}
}

// Upsert 加入或刷新成员：一行一个 (文档, 参与者)，原地覆盖
func (s *MySQLCollaboratorStore) Upsert(ctx context.Context, c *Collaborator) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collaborators (doc_id, participant_id, display_name, color, is_active, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE display_name = VALUES(display_name), color = VALUES(color),
		   is_active = VALUES(is_active), last_seen_at = VALUES(last_seen_at)`,
		c.DocID, c.ParticipantID, c.DisplayName, c.Color, c.IsActive, c.LastSeenAt,
	)
	return err
}

func (s *MySQLCollaboratorStore) Touch(ctx context.Context, docID string, participantID uint64, seenAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collaborators SET last_seen_at = ?, is_active = TRUE
		 WHERE doc_id = ? AND participant_id = ?`,
		seenAt, docID, participantID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLCollaboratorStore) Deactivate(ctx context.Context, docID string, participantID uint64, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE collaborators SET is_active = FALSE, last_seen_at = ?
		 WHERE doc_id = ? AND participant_id = ?`,
		seenAt, docID, participantID,
	)
	return err
}

// SweepStale 清理心跳过期的成员，返回被清理的行（调用方据此删光标）
func (s *MySQLCollaboratorStore) SweepStale(ctx context.Context, cutoff time.Time) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, participant_id, display_name, color, is_active, last_seen_at
		 FROM collaborators WHERE is_active = TRUE AND last_seen_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	stale, err := scanCollaborators(rows)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE collaborators SET is_active = FALSE WHERE is_active = TRUE AND last_seen_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	return stale, nil
}

func (s *MySQLCollaboratorStore) ListActive(ctx context.Context, docID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, participant_id, display_name, color, is_active, last_seen_at
		 FROM collaborators WHERE doc_id = ? AND is_active = TRUE
		 ORDER BY last_seen_at DESC`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	return scanCollaborators(rows)
}

func scanCollaborators(rows *sql.Rows) ([]Collaborator, error) {
	defer rows.Close()
	var out []Collaborator
	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(&c.DocID, &c.ParticipantID, &c.DisplayName, &c.Color, &c.IsActive, &c.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
