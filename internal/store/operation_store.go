package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

type MySQLOperationStore struct{ db *sql.DB }

func NewMySQLOperationStore(db *sql.DB) *MySQLOperationStore {
	return &MySQLOperationStore{db: db}
}

// Append 追加一条日志行。(doc_id, seq) 唯一键保证同一序号只落盘一次；
// 撞键说明序号分配出了问题，直接报给调用方。
func (s *MySQLOperationStore) Append(ctx context.Context, op *Operation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operations (id, doc_id, seq, author_id, kind, position, text, length, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.DocID, op.Seq, op.AuthorID, op.Kind, op.Position, op.Text, op.Length, op.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return fmt.Errorf("duplicate seq %d for doc %s: %w", op.Seq, op.DocID, err)
		}
		return err
	}
	return nil
}

func (s *MySQLOperationStore) MaxSeq(ctx context.Context, docID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM operations WHERE doc_id = ?`,
		docID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// ListSince 返回 fromSeq 之后的操作，按 seq 升序，用于断线追平
func (s *MySQLOperationStore) ListSince(ctx context.Context, docID string, fromSeq uint64, limit int) ([]Operation, error) {
	q := `SELECT id, doc_id, seq, author_id, kind, position, text, length, created_at
	      FROM operations WHERE doc_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{docID, fromSeq}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.DocID, &op.Seq, &op.AuthorID, &op.Kind, &op.Position, &op.Text, &op.Length, &op.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
