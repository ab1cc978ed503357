package realtime

import (
	log "log/slog"
	"sync"
)

// Listener 业务帧回调。调用是同步的，回调内不应阻塞；
// 需要异步处理的工作（如失效缓存）应自行 fire-and-forget。
type Listener func(*EventFrame)

// ListenerHandle 一次注册的身份凭据。Go 的函数值没有可比较的身份
// （不同接收者上的方法值共享同一个代码指针），所以注销凭句柄而不是
// 凭函数引用，否则两个视图注册各自的 HandleFrame 会互相顶掉。
type ListenerHandle struct {
	fn Listener
}

// Dispatcher 负责把帧按注册顺序分发给所有监听者。
// heartbeat/connected 属于连接维护帧，永远不会触达监听者。
type Dispatcher struct {
	mu        sync.Mutex
	listeners []*ListenerHandle
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// AddListener 注册监听者并返回注销句柄。fn 为 nil 时不注册，返回 nil。
func (d *Dispatcher) AddListener(fn Listener) *ListenerHandle {
	if fn == nil {
		return nil
	}
	h := &ListenerHandle{fn: fn}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, h)
	return h
}

// RemoveListener 注销句柄。nil 句柄或已注销的句柄为空操作。
func (d *Dispatcher) RemoveListener(h *ListenerHandle) {
	if h == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.listeners {
		if e == h {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return
		}
	}
}

// Len 当前注册的监听者数量
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

// Clear 清空所有监听者
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = nil
}

// Dispatch 同步分发一帧。先快照再遍历，监听者在回调中注销自己
// 不会影响本轮分发；单个监听者 panic 不会阻断后续监听者。
func (d *Dispatcher) Dispatch(f *EventFrame) {
	if f == nil || f.IsBookkeeping() {
		return
	}

	d.mu.Lock()
	snapshot := make([]*ListenerHandle, len(d.listeners))
	copy(snapshot, d.listeners)
	d.mu.Unlock()

	for _, h := range snapshot {
		d.invoke(h.fn, f)
	}
}

func (d *Dispatcher) invoke(fn Listener, f *EventFrame) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("推送监听者 panic，已隔离", "type", f.Type, "recover", r)
		}
	}()
	fn(f)
}
