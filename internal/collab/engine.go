package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabcore/internal/cache"
	"collabcore/internal/ot"
)

// 每个参与者会话一个状态机：
// Disconnected → Joining → Synced ⇄ Reconciling → Leaving → Disconnected
type EngineState int32

const (
	StateDisconnected EngineState = iota
	StateJoining
	StateSynced
	StateReconciling
	StateLeaving
)

func (s EngineState) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateSynced:
		return "synced"
	case StateReconciling:
		return "reconciling"
	case StateLeaving:
		return "leaving"
	default:
		return "disconnected"
	}
}

// 客户端光标上报的最小间隔（去抖）
const cursorDebounce = 100 * time.Millisecond

// Engine 把一个参与者的本地缓冲区与共享文档对齐。
//
// 本地编辑：折叠为单区段操作，乐观地先改本地缓冲再提交；
// 提交被拒时按逆操作撤销被拒的部分（已接受的保留），
// 并通过 onError 提示用户。
// 远端操作：先对未确认的在途操作做变换（已被排序的一方优先），
// 再套到本地缓冲上；自己提交的回声靠 clientID 识别并跳过。
type Engine struct {
	svc      *Service
	notifier cache.Notifier
	logger   *zap.Logger

	sessionID     string
	participantID uint64
	displayName   string
	color         string
	// 引擎实例标识。同一参与者可开多个标签页，每页一个 clientID。
	clientID string

	mu       sync.Mutex
	state    EngineState
	docID    string
	buf      *PieceTable
	lastGood string  // 服务端确认过的最近内容
	pending  []ot.Op // 已提交、尚未收到回声的操作
	title    string

	members []cache.Member
	cursors map[uint64]cache.Cursor

	sub  cache.Subscription
	done chan struct{}

	lastCursorAt time.Time

	// 编辑被服务端拒绝时的用户提示回调（"未保存"），可为空
	onError func(error)
}

func NewEngine(svc *Service, notifier cache.Notifier, sessionID string, participantID uint64, displayName, color string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		svc:           svc,
		notifier:      notifier,
		logger:        logger,
		sessionID:     sessionID,
		participantID: participantID,
		displayName:   displayName,
		color:         color,
		clientID:      uuid.NewString(),
		state:         StateDisconnected,
		buf:           NewPieceTable(""),
		cursors:       make(map[uint64]cache.Cursor),
	}
}

// OnError 注册编辑被拒时的提示回调
func (e *Engine) OnError(fn func(error)) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
}

// Join 建取文档、登记在线、订阅通知、用快照填充本地缓冲
func (e *Engine) Join(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateDisconnected {
		e.mu.Unlock()
		return fmt.Errorf("join from state %s", e.state)
	}
	e.state = StateJoining
	e.mu.Unlock()

	doc, err := e.svc.CreateOrGetDocument(ctx, e.sessionID)
	if err != nil {
		e.setState(StateDisconnected)
		return err
	}
	if err := e.svc.Join(ctx, doc.ID, e.participantID, e.displayName, e.color); err != nil {
		e.setState(StateDisconnected)
		return err
	}

	members, err := e.svc.ListCollaborators(ctx, doc.ID)
	if err != nil {
		e.logger.Warn("initial collaborator snapshot failed", zap.Error(err))
	}
	cursors, err := e.svc.ListCursors(ctx, doc.ID)
	if err != nil {
		e.logger.Warn("initial cursor snapshot failed", zap.Error(err))
	}

	sub, err := e.notifier.Subscribe(ctx, doc.ID)
	if err != nil {
		_ = e.svc.Leave(ctx, doc.ID, e.participantID)
		e.setState(StateDisconnected)
		return fmt.Errorf("subscribe: %w", err)
	}

	e.mu.Lock()
	e.docID = doc.ID
	e.title = doc.Title
	e.buf.Reset(doc.Content)
	e.lastGood = doc.Content
	e.pending = nil
	e.members = nil
	for _, c := range members {
		e.members = append(e.members, cache.Member{
			ParticipantID: c.ParticipantID,
			DisplayName:   c.DisplayName,
			Color:         c.Color,
			LastSeenAt:    c.LastSeenAt,
		})
	}
	e.cursors = make(map[uint64]cache.Cursor)
	for _, cur := range cursors {
		if cur.ParticipantID != e.participantID {
			e.cursors[cur.ParticipantID] = cur
		}
	}
	e.sub = sub
	e.done = make(chan struct{})
	e.state = StateSynced
	e.mu.Unlock()

	go e.loop()
	return nil
}

func (e *Engine) loop() {
	defer close(e.done)
	for evt := range e.sub.C() {
		e.handleEvent(evt)
	}
}

// Edit 接受编辑后的完整本地文本，算差量并提交。
// 本地缓冲立即更新（提交前），编辑者不感知延迟。
func (e *Engine) Edit(ctx context.Context, newText string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateSynced && e.state != StateReconciling {
		return fmt.Errorf("edit from state %s", e.state)
	}

	prev := e.buf.String()
	ops := DiffOnce(prev, newText)
	if len(ops) == 0 {
		return nil
	}

	e.state = StateReconciling
	// 乐观应用，同时记下每步的逆操作备撤销用
	inverses := make([]ot.Op, 0, len(ops))
	for _, op := range ops {
		inv, err := op.Invert(e.buf.String())
		if err == nil {
			err = e.buf.ApplyOp(op)
		}
		if err != nil {
			e.buf.Reset(prev)
			e.state = StateSynced
			return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
		}
		inverses = append(inverses, inv)
	}

	for i, op := range ops {
		op.AuthorID = e.participantID
		e.pending = append(e.pending, op)
		if _, err := e.svc.ApplyOperation(ctx, e.docID, e.participantID, e.clientID, op); err != nil {
			// 服务端拒绝：不许悄悄保留本地版本。已被接受的操作留在
			// 缓冲和 pending 里等回声确认；被拒的和尚未提交的按逆操作
			// 逐个撤销，本地与服务端仍然一致。
			e.pending = e.pending[:len(e.pending)-1]
			for j := len(ops) - 1; j >= i; j-- {
				_ = e.buf.ApplyOp(inverses[j])
			}
			e.state = StateSynced
			if e.onError != nil {
				e.onError(err)
			}
			return err
		}
	}
	e.state = StateSynced
	return nil
}

// ReportCursor 上报本地光标。~100ms 去抖，失败只记日志（丢光标无害）。
func (e *Engine) ReportCursor(ctx context.Context, position int, selStart, selEnd *int) {
	e.mu.Lock()
	if time.Since(e.lastCursorAt) < cursorDebounce {
		e.mu.Unlock()
		return
	}
	e.lastCursorAt = time.Now()
	docID := e.docID
	e.mu.Unlock()

	if docID == "" {
		return
	}
	if err := e.svc.UpdateCursor(ctx, docID, e.participantID, position, selStart, selEnd); err != nil {
		e.logger.Warn("cursor report failed", zap.Error(err))
	}
}

// Leave 退订通知并下线
func (e *Engine) Leave(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateDisconnected || e.state == StateLeaving {
		e.mu.Unlock()
		return nil
	}
	e.state = StateLeaving
	sub := e.sub
	done := e.done
	docID := e.docID
	e.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
		<-done
	}
	err := e.svc.Leave(ctx, docID, e.participantID)

	e.mu.Lock()
	e.state = StateDisconnected
	e.sub = nil
	e.mu.Unlock()
	return err
}

func (e *Engine) handleEvent(evt cache.Event) {
	switch evt.Kind {
	case cache.EventOp:
		if evt.Op != nil {
			e.handleRemoteOp(*evt.Op)
		}
	case cache.EventContent:
		if evt.Content != nil {
			e.handleSnapshot(*evt.Content)
		}
	case cache.EventCursor:
		if evt.Cursor != nil {
			e.handleCursor(*evt.Cursor)
		}
	case cache.EventMembers:
		e.handleMembers(evt.Members)
	}
}

func (e *Engine) handleRemoteOp(p cache.OpPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.ClientID != "" && p.ClientID == e.clientID {
		// 回声抑制：自己提交的操作已经乐观应用过，跳过
		if len(e.pending) > 0 {
			e.pending = e.pending[1:]
		}
		if len(e.pending) == 0 {
			e.lastGood = e.buf.String()
		}
		return
	}

	rop := ot.Op{
		Kind:     ot.Kind(p.Kind),
		Pos:      p.Position,
		Text:     p.Text,
		Len:      p.Length,
		AuthorID: p.AuthorID,
	}
	// 远端操作已被排序落盘，对在途的本地操作做变换（远端优先）
	for i := range e.pending {
		e.pending[i], rop = ot.Transform(e.pending[i], rop)
	}
	if err := e.buf.ApplyOp(rop); err != nil {
		// 偏移彻底漂掉了，等下一个全量快照纠正
		e.logger.Warn("remote op apply failed, awaiting snapshot",
			zap.String("doc", e.docID), zap.Uint64("seq", p.Seq), zap.Error(err))
		return
	}
	if len(e.pending) == 0 {
		e.lastGood = e.buf.String()
	}
}

func (e *Engine) handleSnapshot(p cache.ContentPayload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.title = p.Title
	if len(e.pending) > 0 {
		// 本地还有未确认的修改，整体替换会把它冲掉，丢弃这次快照
		return
	}
	if e.buf.String() != p.Content {
		e.buf.Reset(p.Content)
	}
	e.lastGood = p.Content
}

func (e *Engine) handleCursor(cur cache.Cursor) {
	if cur.ParticipantID == e.participantID {
		return
	}
	e.mu.Lock()
	e.cursors[cur.ParticipantID] = cur
	e.mu.Unlock()
}

func (e *Engine) handleMembers(members []cache.Member) {
	e.mu.Lock()
	e.members = members
	// 不在线的成员连光标也一起清掉
	active := make(map[uint64]bool, len(members))
	for _, m := range members {
		active[m.ParticipantID] = true
	}
	for pid := range e.cursors {
		if !active[pid] {
			delete(e.cursors, pid)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) setState(s EngineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) DocID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docID
}

func (e *Engine) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

// Text 当前本地缓冲内容
func (e *Engine) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.String()
}

// Collaborators 最近一次成员广播的快照
func (e *Engine) Collaborators() []cache.Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]cache.Member, len(e.members))
	copy(out, e.members)
	return out
}

// Cursors 其他参与者的最新光标
func (e *Engine) Cursors() map[uint64]cache.Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[uint64]cache.Cursor, len(e.cursors))
	for k, v := range e.cursors {
		out[k] = v
	}
	return out
}
