package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationModel 系统通知模型
type NotificationModel struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    uint64             `bson:"user_id" json:"userId"`           // 通知归属用户ID
	Title     string             `bson:"title" json:"title"`              // 标题
	Message   string             `bson:"message" json:"message"`          // 正文
	Type      string             `bson:"type" json:"type"`                // system / opportunity / application
	Data      map[string]any     `bson:"data,omitempty" json:"data"`      // 额外元数据 (如跳转目标)
	IsRead    bool               `bson:"is_read" json:"isRead"`           // 是否已读
	ReadAt    *time.Time         `bson:"read_at,omitempty" json:"readAt"` // 首次已读时间，置位后不再改动
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`     // 创建时间
}
