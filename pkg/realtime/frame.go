package realtime

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"
)

// 推送帧类型
const (
	EventHeartbeat          = "heartbeat"
	EventConnected          = "connected"
	EventNewMessage         = "new_message"
	EventMessageRead        = "message_read"
	EventConversationUpdate = "conversation_update"
)

// UserRef 帧内嵌的用户引用
type UserRef struct {
	ID        string `json:"_id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// GroupRef 帧内嵌的群组引用
type GroupRef struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// WireMessage new_message / message_read 帧携带的消息体
// Receiver 与 Group 互斥：单聊消息只有 Receiver，群聊消息只有 Group
type WireMessage struct {
	ID        string    `json:"_id,omitempty"`
	Sender    *UserRef  `json:"sender,omitempty"`
	Receiver  *UserRef  `json:"receiver,omitempty"`
	Group     *GroupRef `json:"group,omitempty"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// FrameData 帧的变体负载
type FrameData struct {
	Message  *WireMessage `json:"message,omitempty"`
	ReaderID string       `json:"reader_id,omitempty"`
	ReadSeq  uint64       `json:"read_seq,omitempty"`
}

// EventFrame 推送流上的单个事件帧
type EventFrame struct {
	Type      string     `json:"type"`
	Data      *FrameData `json:"data,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
}

// IsBookkeeping heartbeat/connected 仅用于连接维护，不参与业务分发
func (f *EventFrame) IsBookkeeping() bool {
	return f.Type == EventHeartbeat || f.Type == EventConnected
}

// ParseFrame 解析一行 data: 负载
func ParseFrame(payload []byte) (*EventFrame, error) {
	var f EventFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// EncodeSSE 按 data: <json>\n\n 格式编码，供推送端写出
func (f *EventFrame) EncodeSSE() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
