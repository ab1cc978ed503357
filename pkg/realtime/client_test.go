package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

type fakeOpener struct {
	mu     sync.Mutex
	opens  int
	script []func() (io.ReadCloser, error)
}

// Open 依次消费脚本，末项保留重复使用
func (f *fakeOpener) Open(ctx context.Context, userID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if len(f.script) == 0 {
		return nil, errors.New("连接被拒绝")
	}
	next := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return next()
}

func (f *fakeOpener) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func failOpen() func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return nil, errors.New("连接被拒绝")
	}
}

func streamOpen(w **io.PipeWriter) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		*w = pw
		return pr, nil
	}
}

// timerRecorder 替换 afterFunc，桩掉真实定时器，由测试手动触发回调
type timerRecorder struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (r *timerRecorder) afterFunc(d time.Duration, fn func()) *time.Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	r.pending = append(r.pending, fn)
	return time.NewTimer(time.Hour)
}

func (r *timerRecorder) fire() bool {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return false
	}
	fn := r.pending[0]
	r.pending = r.pending[1:]
	r.mu.Unlock()
	fn()
	return true
}

func (r *timerRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", msg)
}

func TestClient_ConnectIsNoOpWhenSameUserOpen(t *testing.T) {
	var w *io.PipeWriter
	opener := &fakeOpener{script: []func() (io.ReadCloser, error){streamOpen(&w)}}
	c := NewClient(opener)

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("Connect 失败: %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("expected open state after Connect")
	}
	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("重复 Connect 失败: %v", err)
	}
	if opener.openCount() != 1 {
		t.Fatalf("同一用户重复 Connect 不应重新拨号, opens=%d", opener.openCount())
	}
	c.Disconnect()
}

func TestClient_ConnectSwitchesUser(t *testing.T) {
	var w1, w2 *io.PipeWriter
	opener := &fakeOpener{script: []func() (io.ReadCloser, error){streamOpen(&w1), streamOpen(&w2)}}
	c := NewClient(opener)

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("Connect u1 失败: %v", err)
	}
	if err := c.Connect(context.Background(), "u2"); err != nil {
		t.Fatalf("Connect u2 失败: %v", err)
	}
	if opener.openCount() != 2 {
		t.Fatalf("切换用户应重新拨号, opens=%d", opener.openCount())
	}
	if got := c.UserID(); got != "u2" {
		t.Fatalf("userID = %q, want u2", got)
	}

	// 旧连接应已被关闭
	waitFor(t, func() bool {
		_, err := w1.Write([]byte("x"))
		return err != nil
	}, "旧连接关闭")
	c.Disconnect()
}

func TestClient_BackoffSequenceAndTerminalError(t *testing.T) {
	opener := &fakeOpener{script: []func() (io.ReadCloser, error){failOpen()}}
	rec := &timerRecorder{}
	c := NewClient(opener)
	c.afterFunc = rec.afterFunc

	if err := c.Connect(context.Background(), "u1"); err == nil {
		t.Fatalf("首次拨号应失败")
	}
	for rec.fire() {
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("重连次数 = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("第 %d 次退避 = %v, want %v", i, got[i], want[i])
		}
	}
	if c.State() != StateError {
		t.Fatalf("耗尽重试后状态 = %v, want error", c.State())
	}
}

func TestClient_BackoffCapsAtMaxDelay(t *testing.T) {
	opener := &fakeOpener{script: []func() (io.ReadCloser, error){failOpen()}}
	rec := &timerRecorder{}
	c := NewClient(opener)
	c.afterFunc = rec.afterFunc
	c.maxReconnectAttempts = 7

	_ = c.Connect(context.Background(), "u1")
	for rec.fire() {
	}

	got := rec.recorded()
	if len(got) != 7 {
		t.Fatalf("重连次数 = %d, want 7", len(got))
	}
	if got[5] != 30000*time.Millisecond || got[6] != 30000*time.Millisecond {
		t.Fatalf("超出上限的退避应封顶 30s, got %v / %v", got[5], got[6])
	}
}

func TestClient_SuccessfulOpenResetsBackoff(t *testing.T) {
	var w *io.PipeWriter
	opener := &fakeOpener{script: []func() (io.ReadCloser, error){
		failOpen(), failOpen(), streamOpen(&w),
	}}
	rec := &timerRecorder{}
	c := NewClient(opener)
	c.afterFunc = rec.afterFunc

	_ = c.Connect(context.Background(), "u1")
	rec.fire()
	rec.fire()

	waitFor(t, c.IsConnected, "第三次拨号成功")
	got := rec.recorded()
	if len(got) != 2 || got[0] != 1000*time.Millisecond || got[1] != 2000*time.Millisecond {
		t.Fatalf("前两次退避 = %v", got)
	}

	// 连接中断后退避应从头开始
	_ = w.Close()
	waitFor(t, func() bool { return len(rec.recorded()) == 3 }, "中断后调度重连")
	if d := rec.recorded()[2]; d != 1000*time.Millisecond {
		t.Fatalf("成功后退避未归零: %v", d)
	}
	c.Disconnect()
}

func TestClient_DisconnectIsIdempotentAndClearsListeners(t *testing.T) {
	var w *io.PipeWriter
	opener := &fakeOpener{script: []func() (io.ReadCloser, error){streamOpen(&w)}}
	rec := &timerRecorder{}
	c := NewClient(opener)
	c.afterFunc = rec.afterFunc

	_ = c.Connect(context.Background(), "u1")
	c.AddListener(func(f *EventFrame) {})

	c.Disconnect()
	c.Disconnect()

	if c.IsConnected() || c.UserID() != "" {
		t.Fatalf("Disconnect 后仍有连接痕迹: state=%v userID=%q", c.State(), c.UserID())
	}
	if c.dispatcher.Len() != 0 {
		t.Fatalf("Disconnect 应清空监听者, len=%d", c.dispatcher.Len())
	}

	// 断开后读循环退出不应再调度重连
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.recorded()); n != 0 {
		t.Fatalf("断开后仍调度了 %d 次重连", n)
	}
}

func TestClient_ReadLoopDispatchesAndDropsMalformed(t *testing.T) {
	var w *io.PipeWriter
	opener := &fakeOpener{script: []func() (io.ReadCloser, error){streamOpen(&w)}}
	c := NewClient(opener)

	frames := make(chan *EventFrame, 8)
	c.AddListener(func(f *EventFrame) { frames <- f })

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("Connect 失败: %v", err)
	}

	good := &EventFrame{Type: EventNewMessage, Data: &FrameData{
		Message: &WireMessage{ID: "m1", Sender: &UserRef{ID: "u2"}, Content: "hi"},
	}}
	payload, err := good.EncodeSSE()
	if err != nil {
		t.Fatalf("EncodeSSE: %v", err)
	}
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("data: {not-json\n\n"))
	_, _ = w.Write([]byte(": keepalive\n\n"))
	_, _ = w.Write(payload)

	for i := 0; i < 2; i++ {
		select {
		case f := <-frames:
			if f.Type != EventNewMessage || f.Data.Message.ID != "m1" {
				t.Fatalf("收到意外帧: %+v", f)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("第 %d 帧未送达", i+1)
		}
	}
	select {
	case f := <-frames:
		t.Fatalf("坏帧不应分发: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
	c.Disconnect()
}

func TestClient_ConnectRecoversFromTerminalError(t *testing.T) {
	var w *io.PipeWriter
	opener := &fakeOpener{script: []func() (io.ReadCloser, error){failOpen()}}
	rec := &timerRecorder{}
	c := NewClient(opener)
	c.afterFunc = rec.afterFunc

	_ = c.Connect(context.Background(), "u1")
	for rec.fire() {
	}
	if c.State() != StateError {
		t.Fatalf("前置条件不满足: state=%v", c.State())
	}

	opener.mu.Lock()
	opener.script = []func() (io.ReadCloser, error){streamOpen(&w)}
	opener.mu.Unlock()

	if err := c.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("终态后显式 Connect 应恢复: %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("恢复后应为 open 状态")
	}
	c.Disconnect()
}
