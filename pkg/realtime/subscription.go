package realtime

// Scope 订阅作用域：当前视图正在看的单聊对端或群组
type Scope struct {
	ID      string
	IsGroup bool
}

// Toast 一次性用户可见提示
type Toast struct {
	Sender  string
	Content string
}

const toastContentLimit = 100

// Subscription 按视图过滤分发流：
//   - 命中当前作用域的事件不做处理（视图自身的取数层负责合并）；
//   - 未命中的事件触发会话/群组摘要失效，且非本人发送的消息弹出 toast。
type Subscription struct {
	scope         Scope
	currentUserID string

	invalidate func()
	toast      func(Toast)
}

// NewSubscription 构造订阅适配器。invalidate 与 toast 均可为 nil。
func NewSubscription(scope Scope, currentUserID string, invalidate func(), toast func(Toast)) *Subscription {
	return &Subscription{
		scope:         scope,
		currentUserID: currentUserID,
		invalidate:    invalidate,
		toast:         toast,
	}
}

// HandleFrame 注册到 Dispatcher 的监听入口
func (s *Subscription) HandleFrame(f *EventFrame) {
	switch f.Type {
	case EventNewMessage, EventMessageRead:
	default:
		return
	}

	var msg *WireMessage
	if f.Data != nil {
		msg = f.Data.Message
	}

	if s.matchesScope(msg) {
		return
	}

	if s.invalidate != nil {
		s.invalidate()
	}

	if f.Type == EventNewMessage {
		s.maybeToast(msg)
	}
}

// matchesScope 作用域命中规则：群聊比对 group._id，单聊比对
// sender/receiver 的 _id。消息字段全部缺失或畸形时按未命中处理。
func (s *Subscription) matchesScope(msg *WireMessage) bool {
	if msg == nil {
		return false
	}

	if s.scope.IsGroup {
		return msg.Group != nil && msg.Group.ID != "" && msg.Group.ID == s.scope.ID
	}

	if msg.Sender != nil && msg.Sender.ID != "" && msg.Sender.ID == s.scope.ID {
		return true
	}
	if msg.Receiver != nil && msg.Receiver.ID != "" && msg.Receiver.ID == s.scope.ID {
		return true
	}
	return false
}

// maybeToast 本人发送的消息不弹 toast（发送方视图已乐观展示）
func (s *Subscription) maybeToast(msg *WireMessage) {
	if s.toast == nil || msg == nil || msg.Sender == nil || msg.Sender.ID == "" {
		return
	}
	if msg.Sender.ID == s.currentUserID {
		return
	}

	s.toast(Toast{
		Sender:  msg.Sender.Name,
		Content: truncateContent(msg.Content, toastContentLimit),
	})
}

// truncateContent 超长内容按字符截断并追加省略号
func truncateContent(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
