package es

import "time"

// MessageES 对应 message_index 的文档结构
type MessageES struct {
	ID             string    `json:"id"` // MongoDB 消息 ObjectID
	ConversationID uint64    `json:"conversation_id"`
	SenderID       uint64    `json:"sender_id"`
	Content        string    `json:"content"`
	Seq            uint64    `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
}
