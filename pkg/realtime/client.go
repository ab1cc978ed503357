package realtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// State 连接状态
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateError        State = "error"
)

const (
	defaultBaseDelay     = 1000 * time.Millisecond
	defaultMaxDelay      = 30000 * time.Millisecond
	defaultMaxReconnects = 5
)

// StreamOpener 打开一条到推送端点的长连接，返回帧字节流。
// 抽象出来便于测试注入假传输。
type StreamOpener interface {
	Open(ctx context.Context, userID string) (io.ReadCloser, error)
}

// SSEOpener 默认实现：对推送端点发起长连 GET
type SSEOpener struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func (o *SSEOpener) Open(ctx context.Context, userID string) (io.ReadCloser, error) {
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	url := o.BaseURL + "/api/stream?token=" + o.Token
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("推送端点返回异常状态: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Client 推送连接管理器：每个实例同一时刻至多持有一条物理连接。
// 生命周期由上层应用壳持有，测试按例构造新实例。
type Client struct {
	opener StreamOpener

	mu               sync.Mutex
	userID           string
	state            State
	reconnectAttempt int
	gen              uint64
	body             io.ReadCloser
	reconnectTimer   *time.Timer
	ctx              context.Context
	cancel           context.CancelFunc

	dispatcher *Dispatcher

	maxReconnectAttempts int
	baseDelay            time.Duration
	maxDelay             time.Duration

	// 测试钩子：默认 time.AfterFunc
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewClient 构造连接管理器
func NewClient(opener StreamOpener) *Client {
	return &Client{
		opener:               opener,
		state:                StateDisconnected,
		dispatcher:           NewDispatcher(),
		maxReconnectAttempts: defaultMaxReconnects,
		baseDelay:            defaultBaseDelay,
		maxDelay:             defaultMaxDelay,
		afterFunc:            time.AfterFunc,
	}
}

// Connect 为指定用户建立连接。同一用户已处于 open 状态时为空操作；
// 其余情况先拆除旧连接再重建，并把重连计数归零。
func (c *Client) Connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.userID == userID && c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked()

	connCtx, cancel := context.WithCancel(ctx)
	c.ctx = connCtx
	c.cancel = cancel
	c.userID = userID
	c.reconnectAttempt = 0
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()

	return c.dial(gen)
}

// Disconnect 幂等关闭：取消待定的重连定时器、关闭物理连接、
// 清空 userID 与全部监听者。
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.teardownLocked()
	c.userID = ""
	c.state = StateDisconnected
	c.mu.Unlock()

	c.dispatcher.Clear()
}

// AddListener 注册业务帧监听者，返回注销句柄
func (c *Client) AddListener(fn Listener) *ListenerHandle {
	return c.dispatcher.AddListener(fn)
}

// RemoveListener 注销句柄（nil 或未注册的句柄为空操作）
func (c *Client) RemoveListener(h *ListenerHandle) {
	c.dispatcher.RemoveListener(h)
}

// IsConnected 仅当物理连接处于 open 状态时为 true
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// UserID 当前连接所属用户
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// State 当前连接状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// teardownLocked 拆除当前连接并递增代数，使存活的读循环/定时器失效
func (c *Client) teardownLocked() {
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.body != nil {
		_ = c.body.Close()
		c.body = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Client) dial(gen uint64) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil
	}
	ctx := c.ctx
	userID := c.userID
	c.mu.Unlock()

	body, err := c.opener.Open(ctx, userID)
	if err != nil {
		log.Warn("推送连接建立失败", "userID", userID, "err", err)
		c.scheduleReconnect(gen)
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = body.Close()
		return nil
	}
	c.body = body
	c.state = StateOpen
	c.reconnectAttempt = 0
	c.mu.Unlock()

	go c.readLoop(gen, body)
	return nil
}

// readLoop 逐行消费帧流。单帧解析失败只丢弃该帧；
// 流中断视作传输错误，进入重连流程。
func (c *Client) readLoop(gen uint64, body io.ReadCloser) {
	defer func() {
		_ = body.Close()
	}()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		frame, err := ParseFrame([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			log.Warn("推送帧解析失败，丢弃", "err", err)
			continue
		}
		c.dispatcher.Dispatch(frame)
	}

	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}
	c.scheduleReconnect(gen)
}

// scheduleReconnect 按 min(base*2^attempt, max) 退避调度重连；
// 超过最大次数后进入终态 error，等待上层显式 Connect 恢复。
func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return
	}
	if c.reconnectAttempt >= c.maxReconnectAttempts {
		c.state = StateError
		log.Warn("推送重连次数耗尽，停止重试", "userID", c.userID)
		return
	}

	delay := c.backoffDelay(c.reconnectAttempt)
	c.state = StateConnecting
	log.Info("推送连接计划重连", "attempt", c.reconnectAttempt, "delay", delay)

	c.reconnectTimer = c.afterFunc(delay, func() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.reconnectAttempt++
		c.reconnectTimer = nil
		c.mu.Unlock()

		_ = c.dial(gen)
	})
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.baseDelay << uint(attempt)
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	return delay
}
