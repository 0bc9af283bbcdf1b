package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 集成测试，需要本地 MySQL。可用 COLLAB_TEST_MYSQL_DSN 覆盖默认连接。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("COLLAB_TEST_MYSQL_DSN")
	if dsn == "" {
		dsn = "root:123456@tcp(127.0.0.1:3306)/collabcore_test?charset=utf8mb4&parseTime=True&loc=Local"
	}
	_, sqlDB, err := InitMySQL(dsn)
	if err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = sqlDB.ExecContext(ctx, "DELETE FROM operations")
		_, _ = sqlDB.ExecContext(ctx, "DELETE FROM collaborators")
		_, _ = sqlDB.ExecContext(ctx, "DELETE FROM documents")
		_ = sqlDB.Close()
	})
	return sqlDB
}

func TestMySQLDocumentStore_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	s := NewMySQLDocumentStore(db)
	ctx := context.Background()

	a, err := s.CreateOrGet(ctx, "it-session-1")
	require.NoError(t, err)
	b, err := s.CreateOrGet(ctx, "it-session-1")
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID)

	require.NoError(t, s.UpdateContent(ctx, a.ID, "hello", 7, 0))
	require.ErrorIs(t, s.UpdateContent(ctx, a.ID, "stale", 8, 0), ErrVersionMismatch)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content)
	require.Equal(t, uint64(1), got.Version)
	require.NotNil(t, got.LastEditedBy)
	require.Equal(t, uint64(7), *got.LastEditedBy)

	require.NoError(t, s.UpdateTitle(ctx, a.ID, "标题"))
	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "标题", got.Title)

	_, err = s.Get(ctx, "no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMySQLOperationStore_AppendAndList(t *testing.T) {
	db := openTestDB(t)
	docs := NewMySQLDocumentStore(db)
	s := NewMySQLOperationStore(db)
	ctx := context.Background()

	doc, err := docs.CreateOrGet(ctx, "it-session-ops")
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.Append(ctx, &Operation{
			ID:        "it-op-" + string(rune('0'+i)),
			DocID:     doc.ID,
			Seq:       i,
			AuthorID:  1,
			Kind:      "insert",
			Text:      "x",
			CreatedAt: time.Now(),
		}))
	}
	// (doc, seq) 唯一
	require.Error(t, s.Append(ctx, &Operation{ID: "it-op-dup", DocID: doc.ID, Seq: 2, Kind: "insert", CreatedAt: time.Now()}))

	max, err := s.MaxSeq(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(3), max)

	ops, err := s.ListSince(ctx, doc.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, uint64(2), ops[0].Seq)
	require.Equal(t, uint64(3), ops[1].Seq)
}

func TestMySQLCollaboratorStore_Lifecycle(t *testing.T) {
	db := openTestDB(t)
	docs := NewMySQLDocumentStore(db)
	s := NewMySQLCollaboratorStore(db)
	ctx := context.Background()

	doc, err := docs.CreateOrGet(ctx, "it-session-members")
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.Upsert(ctx, &Collaborator{DocID: doc.ID, ParticipantID: 1, DisplayName: "Ada", IsActive: true, LastSeenAt: now}))
	require.NoError(t, s.Upsert(ctx, &Collaborator{DocID: doc.ID, ParticipantID: 2, DisplayName: "Grace", IsActive: true, LastSeenAt: now}))

	require.NoError(t, s.Touch(ctx, doc.ID, 1, now.Add(time.Second)))
	require.ErrorIs(t, s.Touch(ctx, doc.ID, 99, now), ErrNotFound)

	active, err := s.ListActive(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	require.NoError(t, s.Deactivate(ctx, doc.ID, 2, now.Add(time.Second)))
	active, err = s.ListActive(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, uint64(1), active[0].ParticipantID)

	stale, err := s.SweepStale(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, uint64(1), stale[0].ParticipantID)
}
