package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// 四个逻辑独立的通知频道，按文档订阅。
// 跨频道不保证投递顺序：光标事件可能先于它逻辑上跟随的操作到达。
type EventKind string

const (
	EventContent EventKind = "content"
	EventOp      EventKind = "op"
	EventCursor  EventKind = "cursor"
	EventMembers EventKind = "members"
)

var allKinds = []EventKind{EventContent, EventOp, EventCursor, EventMembers}

type ContentPayload struct {
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Version      uint64  `json:"version"`
	LastEditedBy *uint64 `json:"lastEditedBy,omitempty"`
}

// OpPayload 广播已应用的操作。ClientID 标记提交方的引擎实例，
// 回声抑制靠它（同一用户可开多个标签页，单靠 AuthorID 不够）。
type OpPayload struct {
	OperationID string    `json:"operationId"`
	Seq         uint64    `json:"seq"`
	AuthorID    uint64    `json:"authorId"`
	ClientID    string    `json:"clientId,omitempty"`
	Kind        string    `json:"kind"`
	Position    int       `json:"position"`
	Text        string    `json:"text,omitempty"`
	Length      int       `json:"length,omitempty"`
	AppliedAt   time.Time `json:"appliedAt"`
}

type Member struct {
	ParticipantID uint64    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Color         string    `json:"color"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}

type Event struct {
	Kind    EventKind       `json:"kind"`
	DocID   string          `json:"docId"`
	Content *ContentPayload `json:"content,omitempty"`
	Op      *OpPayload      `json:"op,omitempty"`
	Cursor  *Cursor         `json:"cursor,omitempty"`
	Members []Member        `json:"members,omitempty"`
}

type Subscription interface {
	C() <-chan Event
	Close() error
}

type Notifier interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe 订阅某文档的通知。kinds 为空表示全部四个频道。
	Subscribe(ctx context.Context, docID string, kinds ...EventKind) (Subscription, error)
}

// 具体实现：基于 redis pub/sub 的 Notifier
type redisNotifier struct {
	rdb redis.UniversalClient
}

func NewRedisNotifier(rdb redis.UniversalClient) Notifier {
	return &redisNotifier{rdb: rdb}
}

func (n *redisNotifier) Publish(ctx context.Context, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, channelKey(evt.DocID, evt.Kind), b).Err()
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan Event
	once sync.Once
}

func (s *redisSubscription) C() <-chan Event { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

func (n *redisNotifier) Subscribe(ctx context.Context, docID string, kinds ...EventKind) (Subscription, error) {
	if len(kinds) == 0 {
		kinds = allKinds
	}
	channels := make([]string, len(kinds))
	for i, k := range kinds {
		channels[i] = channelKey(docID, k)
	}
	ps := n.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSubscription{ps: ps, ch: make(chan Event, 64)}
	go func() {
		defer close(sub.ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			sub.ch <- evt
		}
	}()
	return sub, nil
}

// LocalNotifier 进程内实现，单进程部署和测试用。
// Publish 同步投递，队列满则丢弃（与 ws 出站队列的策略相同）。
type LocalNotifier struct {
	mu   sync.RWMutex
	subs map[string][]*localSubscription
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string][]*localSubscription)}
}

type localSubscription struct {
	n     *LocalNotifier
	docID string
	kinds map[EventKind]bool
	ch    chan Event
	once  sync.Once
}

func (s *localSubscription) C() <-chan Event { return s.ch }

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		// 摘除和 close 必须在同一临界区内完成：Publish 持读锁投递，
		// 锁外 close 会和投递撞上（向已关闭通道发送）
		s.n.mu.Lock()
		subs := s.n.subs[s.docID]
		for i, sub := range subs {
			if sub == s {
				s.n.subs[s.docID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
		s.n.mu.Unlock()
	})
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context, docID string, kinds ...EventKind) (Subscription, error) {
	if len(kinds) == 0 {
		kinds = allKinds
	}
	km := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		km[k] = true
	}
	sub := &localSubscription{n: n, docID: docID, kinds: km, ch: make(chan Event, 64)}
	n.mu.Lock()
	n.subs[docID] = append(n.subs[docID], sub)
	n.mu.Unlock()
	return sub, nil
}

func (n *LocalNotifier) Publish(ctx context.Context, evt Event) error {
	// 投递是非阻塞的，整段持读锁即可；Close 拿写锁，
	// 保证不会向已关闭的通道发送
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subs[evt.DocID] {
		if !sub.kinds[evt.Kind] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// 订阅方消费太慢，丢弃
		}
	}
	return nil
}
