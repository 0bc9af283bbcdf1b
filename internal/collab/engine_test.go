package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"collabcore/internal/cache"
	"collabcore/internal/ot"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

func newEngine(f *serviceFixture, sessionID string, pid uint64, name string) *Engine {
	return NewEngine(f.svc, f.notifier, sessionID, pid, name, "", nil)
}

func (e *Engine) pendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func TestEngine_JoinSeedsFromDocument(t *testing.T) {
	f := newServiceFixture(t, nil, ServiceOptions{})
	ctx := context.Background()

	doc := f.mustDoc(t, "session-join")
	_, err := f.svc.ApplyOperation(ctx, doc.ID, 9, "warmup", ot.Op{Kind: ot.KindInsert, Text: "existing content"})
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdateTitle(ctx, doc.ID, 9, "草稿"))

	e := newEngine(f, "session-join", 1, "Ada")
	require.NoError(t, e.Join(ctx))
	defer e.Leave(ctx)

	require.Equal(t, doc.ID, e.DocID())
	require.Equal(t, "existing content", e.Text())
	require.Equal(t, "草稿", e.Title())
	require.Equal(t, StateSynced, e.State())

	// 重复 Join 是状态机违例
	require.Error(t, e.Join(ctx))
}

func TestEngine_EditBeforeJoin(t *testing.T) {
	f := newServiceFixture(t, nil, ServiceOptions{})
	e := newEngine(f, "session-nojoin", 1, "Ada")
	require.Error(t, e.Edit(context.Background(), "hello"))
}

func TestEngine_TwoEnginesConverge(t *testing.T) {
	f := newServiceFixture(t, nil, ServiceOptions{})
	ctx := context.Background()

	a := newEngine(f, "session-conv", 1, "Ada")
	b := newEngine(f, "session-conv", 2, "Grace")
	require.NoError(t, a.Join(ctx))
	defer a.Leave(ctx)
	require.NoError(t, b.Join(ctx))
	defer b.Leave(ctx)

	require.NoError(t, a.Edit(ctx, "Hello"))

	// 回声不会让 A 重复应用自己的操作
	require.Equal(t, "Hello", a.Text())
	require.Eventually(t, func() bool { return b.Text() == "Hello" }, waitFor, tick)
	require.Eventually(t, func() bool { return a.pendingLen() == 0 }, waitFor, tick)

	require.NoError(t, b.Edit(ctx, "Hello world"))
	require.Eventually(t, func() bool { return a.Text() == "Hello world" }, waitFor, tick)
	require.Equal(t, "Hello world", b.Text())

	// 多轮编辑后两端仍一致
	require.NoError(t, a.Edit(ctx, "Hello brave world"))
	require.NoError(t, a.Edit(ctx, "Hello brave new world"))
	require.Eventually(t, func() bool { return b.Text() == "Hello brave new world" }, waitFor, tick)
}

func TestEngine_EchoSuppression(t *testing.T) {
	f := newServiceFixture(t, nil, ServiceOptions{})
	ctx := context.Background()
	f.mustDoc(t, "session-echo")

	e := newEngine(f, "session-echo", 1, "Ada")
	require.NoError(t, e.Join(ctx))
	defer e.Leave(ctx)

	// 构造"已乐观应用、在途未确认"的状态
	e.mu.Lock()
	e.buf.Reset("Xabc")
	e.lastGood = "abc"
	e.pending = []ot.Op{{Kind: ot.KindInsert, Pos: 0, Text: "X", AuthorID: 1}}
	e.mu.Unlock()

	e.handleRemoteOp(cache.OpPayload{
		ClientID: e.clientID,
		AuthorID: 1,
		Kind:     string(ot.KindInsert),
		Position: 0,
		Text:     "X",
	})

	require.Equal(t, "Xabc", e.Text())
	require.Zero(t, e.pendingLen())
	e.mu.Lock()
	require.Equal(t, "Xabc", e.lastGood)
	e.mu.Unlock()
}

func TestEngine_RemoteOpTransformedAgainstPending(t *testing.T) {
	f := newServiceFixture(t, nil, ServiceOptions{})
	ctx := context.Background()
	f.mustDoc(t, "session-xform")

	e := newEngine(f, "session-xform", 1, "Ada")
	require.NoError(t, e.Join(ctx))
	defer e.Leave(ctx)

	e.mu.Lock()
	e.buf.Reset("Xabc")
	e.lastGood = "abc"
	e.pending = []ot.Op{{Kind: ot.KindInsert, Pos: 0, Text: "X", AuthorID: 1}}
	e.mu.Unlock()

	// 同位置的远端插入：已落盘的一方排在前面
	e.handleRemoteOp(cache.OpPayload{
		ClientID: "someone-else",
		AuthorID: 2,
		Kind:     string(ot.KindInsert),
		Position: 0,
		Text:     "Y",
	})

	require.Equal(t, "YXabc", e.Text())

	// 在途操作被变换到新坐标，回声到达时 lastGood 才收敛
	e.mu.Lock()
	require.Len(t, e.pending, 1)
	require.Equal(t, 1, e.pending[0].Pos)
	require.Equal(t, "abc", e.lastGood)
	e.mu.Unlock()
}

func TestEngine_SnapshotDiscardedWhilePending(t *testing.T) {
	f := newServiceFixture(t, nil, ServiceOptions{})
	ctx := context.Background()
	f.mustDoc(t, "session-snap")

	e := newEngine(f, "session-snap", 1, "Ada")
	require.NoError(t, e.Join(ctx))
	defer e.Leave(ctx)

	e.mu.Lock()
	e.buf.Reset("local draft")
	e.pending = []ot.Op{{Kind: ot.KindInsert, Pos: 0, Text: "local draft"}}
	e.mu.Unlock()

	e.handleSnapshot(cache.ContentPayload{Title: "新标题", Content: "server truth", Version: 3})

	// 有在途修改时不能被全量替换冲掉；标题照常更新
	require.Equal(t, "local draft", e.Text())
	require.Equal(t, "新标题", e.Title())

	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
	e.handleSnapshot(cache.ContentPayload{Title: "新标题", Content: "server truth", Version: 3})
	require.Equal(t, "server truth", e.Text())
}

// flipAuth 加入后再翻转为拒绝，模拟编辑中途权限被收回
type flipAuth struct {
	mu   sync.Mutex
	deny bool
}

func (a *flipAuth) Authorize(ctx context.Context, docID string, participantID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deny {
		return errors.New("permission revoked")
	}
	return nil
}

func (a *flipAuth) setDeny(v bool) {
	a.mu.Lock()
	a.deny = v
	a.mu.Unlock()
}

func TestEngine_RejectedEditRollsBack(t *testing.T) {
	auth := &flipAuth{}
	f := newServiceFixture(t, auth, ServiceOptions{})
	ctx := context.Background()

	e := newEngine(f, "session-reject", 1, "Ada")
	require.NoError(t, e.Join(ctx))
	defer e.Leave(ctx)

	require.NoError(t, e.Edit(ctx, "saved text"))
	require.Eventually(t, func() bool { return e.pendingLen() == 0 }, waitFor, tick)

	var notified error
	e.OnError(func(err error) { notified = err })

	auth.setDeny(true)
	err := e.Edit(ctx, "saved text plus unsaved")
	require.ErrorIs(t, err, ErrNotAuthorized)

	// 本地不许悄悄保留被拒的版本
	require.Equal(t, "saved text", e.Text())
	require.Equal(t, StateSynced, e.State())
	require.Zero(t, e.pendingLen())
	require.ErrorIs(t, notified, ErrNotAuthorized)

	// 权限恢复后可以继续编辑
	auth.setDeny(false)
	require.NoError(t, e.Edit(ctx, "saved text again"))
	require.Equal(t, "saved text again", e.Text())
}

// quotaAuth 放行前 allow 次调用，之后全部拒绝
type quotaAuth struct {
	mu    sync.Mutex
	allow int
}

func (a *quotaAuth) Authorize(ctx context.Context, docID string, participantID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allow <= 0 {
		return errors.New("permission revoked")
	}
	a.allow--
	return nil
}

func TestEngine_PartialRejectionKeepsAcceptedOps(t *testing.T) {
	// Join 1 次 + 首次编辑 1 个操作 + 替换编辑的 delete，第 4 次起拒绝
	auth := &quotaAuth{allow: 3}
	f := newServiceFixture(t, auth, ServiceOptions{})
	ctx := context.Background()

	e := newEngine(f, "session-partial", 1, "Ada")
	require.NoError(t, e.Join(ctx))
	defer e.Leave(ctx)

	require.NoError(t, e.Edit(ctx, "abcdef"))
	require.Eventually(t, func() bool { return e.pendingLen() == 0 }, waitFor, tick)

	// "abcdef" -> "abZZef" 拆成 delete+insert；delete 被接受后 insert 被拒
	err := e.Edit(ctx, "abZZef")
	require.ErrorIs(t, err, ErrNotAuthorized)

	// 已接受的 delete 保留，本地与服务端一致
	require.Equal(t, "abef", e.Text())
	doc, err := f.svc.GetDocument(ctx, e.DocID())
	require.NoError(t, err)
	require.Equal(t, "abef", doc.Content)

	// delete 的回声把 pending 清空，lastGood 收敛
	require.Eventually(t, func() bool { return e.pendingLen() == 0 }, waitFor, tick)
	require.Equal(t, "abef", e.Text())
	e.mu.Lock()
	require.Equal(t, "abef", e.lastGood)
	e.mu.Unlock()
}

func TestEngine_CursorAndMemberPropagation(t *testing.T) {
	f := newServiceFixture(t, nil, ServiceOptions{})
	ctx := context.Background()

	a := newEngine(f, "session-pres", 1, "Ada")
	b := newEngine(f, "session-pres", 2, "Grace")
	require.NoError(t, a.Join(ctx))
	defer a.Leave(ctx)
	require.NoError(t, b.Join(ctx))

	require.Eventually(t, func() bool { return len(a.Collaborators()) == 2 }, waitFor, tick)

	b.ReportCursor(ctx, 7, nil, nil)
	require.Eventually(t, func() bool {
		cur, ok := a.Cursors()[2]
		return ok && cur.Position == 7
	}, waitFor, tick)

	// 自己的光标不进本地视图
	_, ok := b.Cursors()[2]
	require.False(t, ok)

	require.NoError(t, b.Leave(ctx))
	require.Eventually(t, func() bool { return len(a.Collaborators()) == 1 }, waitFor, tick)

	// 离开的成员连光标一起消失
	_, ok = a.Cursors()[2]
	require.False(t, ok)

	// Leave 幂等
	require.NoError(t, b.Leave(ctx))
}

func TestEngine_RejoinAfterLeave(t *testing.T) {
	f := newServiceFixture(t, nil, ServiceOptions{})
	ctx := context.Background()

	e := newEngine(f, "session-rejoin", 1, "Ada")
	require.NoError(t, e.Join(ctx))
	require.NoError(t, e.Edit(ctx, "persisted"))
	require.Eventually(t, func() bool { return e.pendingLen() == 0 }, waitFor, tick)
	require.NoError(t, e.Leave(ctx))
	require.Equal(t, StateDisconnected, e.State())

	require.NoError(t, e.Join(ctx))
	defer e.Leave(ctx)
	require.Equal(t, "persisted", e.Text())
	require.Equal(t, StateSynced, e.State())
}
