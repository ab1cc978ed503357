package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSumUnread(t *testing.T) {
	tests := []struct {
		name          string
		conversations []ThreadSummary
		groups        []ThreadSummary
		want          int64
	}{
		{
			name: "会话与群组混合",
			conversations: []ThreadSummary{
				{ID: "c1", UnreadCount: 2},
				{ID: "c2", UnreadCount: 0},
			},
			groups: []ThreadSummary{{ID: "g1", UnreadCount: 3}},
			want:   5,
		},
		{
			name: "全部为零",
			conversations: []ThreadSummary{
				{ID: "c1"}, {ID: "c2"},
			},
			groups: []ThreadSummary{{ID: "g1"}},
			want:   0,
		},
		{name: "空列表", want: 0},
		{
			name:          "负值按零处理",
			conversations: []ThreadSummary{{ID: "c1", UnreadCount: -3}, {ID: "c2", UnreadCount: 4}},
			want:          4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SumUnread(tt.conversations, tt.groups); got != tt.want {
				t.Fatalf("SumUnread = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUnreadAggregator_RefreshAndOnChange(t *testing.T) {
	var mu sync.Mutex
	unread := []ThreadSummary{{ID: "c1", UnreadCount: 2}}
	fetch := func(ctx context.Context) ([]ThreadSummary, []ThreadSummary, error) {
		mu.Lock()
		defer mu.Unlock()
		return unread, []ThreadSummary{{ID: "g1", UnreadCount: 3}}, nil
	}

	var notified []int64
	agg := NewUnreadAggregator(fetch, func(total int64) { notified = append(notified, total) })

	if err := agg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if agg.Total() != 5 {
		t.Fatalf("Total = %d, want 5", agg.Total())
	}
	if len(notified) != 1 || notified[0] != 5 {
		t.Fatalf("onChange 未按预期触发: %v", notified)
	}

	// 总数不变时不重复通知
	if err := agg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(notified) != 1 {
		t.Fatalf("总数未变化仍触发了通知: %v", notified)
	}

	mu.Lock()
	unread = []ThreadSummary{{ID: "c1"}}
	mu.Unlock()
	if err := agg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(notified) != 2 || notified[1] != 3 {
		t.Fatalf("下降后通知不符: %v", notified)
	}
}

func TestUnreadAggregator_RefreshErrorKeepsLastTotal(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) ([]ThreadSummary, []ThreadSummary, error) {
		calls++
		if calls > 1 {
			return nil, nil, errors.New("摘要接口不可用")
		}
		return []ThreadSummary{{ID: "c1", UnreadCount: 7}}, nil, nil
	}

	agg := NewUnreadAggregator(fetch, nil)
	_ = agg.Refresh(context.Background())

	if err := agg.Refresh(context.Background()); err == nil {
		t.Fatalf("失败的刷新应返回错误")
	}
	if agg.Total() != 7 {
		t.Fatalf("失败的刷新不应改动上次总数, got %d", agg.Total())
	}
}

func TestUnreadAggregator_InvalidateDoesNotBlock(t *testing.T) {
	done := make(chan struct{})
	fetch := func(ctx context.Context) ([]ThreadSummary, []ThreadSummary, error) {
		defer close(done)
		return []ThreadSummary{{ID: "c1", UnreadCount: 1}}, nil, nil
	}

	agg := NewUnreadAggregator(fetch, nil)
	agg.Invalidate(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Invalidate 未触发刷新")
	}
}

func TestUnreadAggregator_RunPollsUntilCancelled(t *testing.T) {
	refreshed := make(chan struct{}, 16)
	fetch := func(ctx context.Context) ([]ThreadSummary, []ThreadSummary, error) {
		refreshed <- struct{}{}
		return nil, nil, nil
	}

	agg := NewUnreadAggregator(fetch, nil)
	agg.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(stopped)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-refreshed:
		case <-time.After(2 * time.Second):
			t.Fatalf("轮询第 %d 次未发生", i+1)
		}
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("取消后 Run 未退出")
	}
}
