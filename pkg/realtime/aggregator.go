package realtime

import (
	"context"
	log "log/slog"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// ThreadSummary 会话/群组摘要中本聚合器关心的部分。
// unreadCount 永远来自服务端权威计算，客户端只读不改。
type ThreadSummary struct {
	ID          string
	UnreadCount int64
}

// SummaryFetcher 拉取当前用户的会话与群组摘要
type SummaryFetcher func(ctx context.Context) (conversations, groups []ThreadSummary, err error)

// UnreadAggregator 汇总全局未读角标：
// totalUnread = Σ conversations.unreadCount + Σ groups.unreadCount。
// 固定轮询刷新，作用域未命中事件触发立即刷新。
type UnreadAggregator struct {
	fetch    SummaryFetcher
	interval time.Duration

	mu    sync.Mutex
	total int64

	onChange func(int64)
}

// NewUnreadAggregator 构造聚合器。onChange 可为 nil。
func NewUnreadAggregator(fetch SummaryFetcher, onChange func(int64)) *UnreadAggregator {
	return &UnreadAggregator{
		fetch:    fetch,
		interval: defaultPollInterval,
		onChange: onChange,
	}
}

// SumUnread 纯函数求和，负值视为 0
func SumUnread(conversations, groups []ThreadSummary) int64 {
	var total int64
	for _, c := range conversations {
		if c.UnreadCount > 0 {
			total += c.UnreadCount
		}
	}
	for _, g := range groups {
		if g.UnreadCount > 0 {
			total += g.UnreadCount
		}
	}
	return total
}

// Total 最近一次刷新得到的全局未读数
func (a *UnreadAggregator) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Refresh 同步刷新一次
func (a *UnreadAggregator) Refresh(ctx context.Context) error {
	conversations, groups, err := a.fetch(ctx)
	if err != nil {
		return err
	}

	total := SumUnread(conversations, groups)

	a.mu.Lock()
	changed := total != a.total
	a.total = total
	a.mu.Unlock()

	if changed && a.onChange != nil {
		a.onChange(total)
	}
	return nil
}

// Invalidate fire-and-forget 刷新，作为订阅适配器的失效钩子使用，
// 不阻塞帧分发。
func (a *UnreadAggregator) Invalidate(ctx context.Context) {
	go func() {
		if err := a.Refresh(ctx); err != nil {
			log.Warn("未读角标刷新失败", "err", err)
		}
	}()
}

// Run 按固定间隔轮询刷新，直至 ctx 取消。
// 轮询与推送互为兜底：两条通道最终一致。
func (a *UnreadAggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Refresh(ctx); err != nil {
				log.Warn("未读角标轮询失败", "err", err)
			}
		}
	}
}
