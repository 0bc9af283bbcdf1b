package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cursor 每个 (文档, 参与者) 一条，原地覆盖，不进操作日志。
// 纯易失状态：重连丢失无所谓，TTL 过期自然消失。
type Cursor struct {
	DocID          string    `json:"docId"`
	ParticipantID  uint64    `json:"participantId"`
	Position       int       `json:"position"`
	SelectionStart *int      `json:"selectionStart,omitempty"`
	SelectionEnd   *int      `json:"selectionEnd,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type CursorCache interface {
	Set(ctx context.Context, c Cursor, ttl time.Duration) error
	Get(ctx context.Context, docID string, participantID uint64) (*Cursor, error)
	List(ctx context.Context, docID string) ([]Cursor, error)
	Delete(ctx context.Context, docID string, participantID uint64) error
}

var ErrCursorNotFound = errors.New("cursor not found")

// 具体实现：基于 redis 的 CursorCache
type redisCursors struct {
	rdb redis.UniversalClient
}

func NewRedisCursors(rdb redis.UniversalClient) CursorCache {
	return &redisCursors{rdb: rdb}
}

func (c *redisCursors) Set(ctx context.Context, cur Cursor, ttl time.Duration) error {
	b, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cursorKey(cur.DocID, cur.ParticipantID), b, ttl).Err()
}

func (c *redisCursors) Get(ctx context.Context, docID string, participantID uint64) (*Cursor, error) {
	b, err := c.rdb.Get(ctx, cursorKey(docID, participantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, err
	}
	var cur Cursor
	if err := json.Unmarshal(b, &cur); err != nil {
		return nil, err
	}
	return &cur, nil
}

func (c *redisCursors) List(ctx context.Context, docID string) ([]Cursor, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, cursorPattern(docID), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	var out []Cursor
	for _, key := range keys {
		b, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			// 扫描和读取之间过期了，跳过
			continue
		}
		if err != nil {
			return nil, err
		}
		var cur Cursor
		if err := json.Unmarshal(b, &cur); err != nil {
			return nil, err
		}
		out = append(out, cur)
	}
	return out, nil
}

func (c *redisCursors) Delete(ctx context.Context, docID string, participantID uint64) error {
	return c.rdb.Del(ctx, cursorKey(docID, participantID)).Err()
}
