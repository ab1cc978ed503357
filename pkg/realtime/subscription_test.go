package realtime

import (
	"strings"
	"testing"
)

type subRecorder struct {
	invalidated int
	toasts      []Toast
}

func (r *subRecorder) hooks() (func(), func(Toast)) {
	return func() { r.invalidated++ },
		func(t Toast) { r.toasts = append(r.toasts, t) }
}

func directMessage(senderID, senderName, receiverID, content string) *EventFrame {
	return &EventFrame{Type: EventNewMessage, Data: &FrameData{
		Message: &WireMessage{
			ID:       "m1",
			Sender:   &UserRef{ID: senderID, Name: senderName},
			Receiver: &UserRef{ID: receiverID},
			Content:  content,
		},
	}}
}

func groupMessage(senderID, groupID, content string) *EventFrame {
	return &EventFrame{Type: EventNewMessage, Data: &FrameData{
		Message: &WireMessage{
			ID:      "m2",
			Sender:  &UserRef{ID: senderID, Name: "某人"},
			Group:   &GroupRef{ID: groupID},
			Content: content,
		},
	}}
}

func TestSubscription_MatchingDirectScopeIsNoOp(t *testing.T) {
	rec := &subRecorder{}
	inv, toast := rec.hooks()
	// 当前用户 C 正在看与 B 的会话，A 给 B 发消息不关 C 的事，
	// 但 C 看的就是 B 的会话时命中作用域
	sub := NewSubscription(Scope{ID: "userB"}, "userC", inv, toast)

	sub.HandleFrame(directMessage("userA", "阿强", "userB", "你好"))

	if rec.invalidated != 0 || len(rec.toasts) != 0 {
		t.Fatalf("命中作用域的帧不应有副作用: invalidated=%d toasts=%d", rec.invalidated, len(rec.toasts))
	}
}

func TestSubscription_MatchingSenderSideScopeIsNoOp(t *testing.T) {
	rec := &subRecorder{}
	inv, toast := rec.hooks()
	sub := NewSubscription(Scope{ID: "userA"}, "userC", inv, toast)

	// 单聊作用域对 sender 与 receiver 都命中
	sub.HandleFrame(directMessage("userA", "阿强", "userC", "你好"))

	if rec.invalidated != 0 || len(rec.toasts) != 0 {
		t.Fatalf("sender 侧命中也不应有副作用: invalidated=%d toasts=%d", rec.invalidated, len(rec.toasts))
	}
}

func TestSubscription_MismatchInvalidatesAndToasts(t *testing.T) {
	rec := &subRecorder{}
	inv, toast := rec.hooks()
	sub := NewSubscription(Scope{ID: "userZ"}, "userC", inv, toast)

	sub.HandleFrame(directMessage("userA", "阿强", "userC", "你好"))

	if rec.invalidated != 1 {
		t.Fatalf("未命中作用域应触发失效, got %d", rec.invalidated)
	}
	if len(rec.toasts) != 1 || rec.toasts[0].Sender != "阿强" || rec.toasts[0].Content != "你好" {
		t.Fatalf("toast 内容不符: %+v", rec.toasts)
	}
}

func TestSubscription_GroupScope(t *testing.T) {
	rec := &subRecorder{}
	inv, toast := rec.hooks()
	sub := NewSubscription(Scope{ID: "g1", IsGroup: true}, "userC", inv, toast)

	sub.HandleFrame(groupMessage("userA", "g1", "群里说话"))
	if rec.invalidated != 0 {
		t.Fatalf("命中群组作用域不应失效")
	}

	sub.HandleFrame(groupMessage("userA", "g2", "另一个群"))
	if rec.invalidated != 1 || len(rec.toasts) != 1 {
		t.Fatalf("其他群消息应触发失效+toast: invalidated=%d toasts=%d", rec.invalidated, len(rec.toasts))
	}
}

func TestSubscription_SelfAuthoredMessageNoToast(t *testing.T) {
	rec := &subRecorder{}
	inv, toast := rec.hooks()
	sub := NewSubscription(Scope{ID: "userZ"}, "userC", inv, toast)

	sub.HandleFrame(directMessage("userC", "本人", "userA", "我发的"))

	if rec.invalidated != 1 {
		t.Fatalf("本人消息仍应触发失效, got %d", rec.invalidated)
	}
	if len(rec.toasts) != 0 {
		t.Fatalf("本人消息不应弹 toast: %+v", rec.toasts)
	}
}

func TestSubscription_MalformedFrameInvalidatesWithoutToast(t *testing.T) {
	rec := &subRecorder{}
	inv, toast := rec.hooks()
	sub := NewSubscription(Scope{ID: "userB"}, "userC", inv, toast)

	// 消息体缺失：按未命中处理，只失效不弹 toast
	sub.HandleFrame(&EventFrame{Type: EventNewMessage})
	sub.HandleFrame(&EventFrame{Type: EventNewMessage, Data: &FrameData{
		Message: &WireMessage{Content: "没有 sender"},
	}})

	if rec.invalidated != 2 {
		t.Fatalf("畸形帧应触发失效, got %d", rec.invalidated)
	}
	if len(rec.toasts) != 0 {
		t.Fatalf("畸形帧不应弹 toast: %+v", rec.toasts)
	}
}

func TestSubscription_IgnoresNonMessageEvents(t *testing.T) {
	rec := &subRecorder{}
	inv, toast := rec.hooks()
	sub := NewSubscription(Scope{ID: "userB"}, "userC", inv, toast)

	sub.HandleFrame(&EventFrame{Type: EventConversationUpdate})
	sub.HandleFrame(&EventFrame{Type: "unknown_event"})

	if rec.invalidated != 0 || len(rec.toasts) != 0 {
		t.Fatalf("非消息事件不应有副作用")
	}
}

func TestSubscription_ReadReceiptInvalidatesWithoutToast(t *testing.T) {
	rec := &subRecorder{}
	inv, toast := rec.hooks()
	sub := NewSubscription(Scope{ID: "userZ"}, "userC", inv, toast)

	sub.HandleFrame(&EventFrame{Type: EventMessageRead, Data: &FrameData{
		Message:  &WireMessage{Sender: &UserRef{ID: "userA", Name: "阿强"}, Receiver: &UserRef{ID: "userC"}},
		ReaderID: "userC",
	}})

	if rec.invalidated != 1 {
		t.Fatalf("未命中的已读回执应触发失效, got %d", rec.invalidated)
	}
	if len(rec.toasts) != 0 {
		t.Fatalf("已读回执不应弹 toast: %+v", rec.toasts)
	}
}

func TestTruncateContent(t *testing.T) {
	long := strings.Repeat("啊", 150)
	got := truncateContent(long, toastContentLimit)
	if got != strings.Repeat("啊", 100)+"..." {
		t.Fatalf("超长内容截断错误, len=%d", len([]rune(got)))
	}

	exact := strings.Repeat("a", 100)
	if truncateContent(exact, toastContentLimit) != exact {
		t.Fatalf("恰好 100 字符不应截断")
	}
	if truncateContent("短", toastContentLimit) != "短" {
		t.Fatalf("短内容不应改动")
	}
}
