package kafka

import (
	"ileap/internal/pkg/util"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// NotificationEvent 业务侧投递的通知事件。
// 志愿项目审核、活动报名、系统公告等都走这条链路。
type NotificationEvent struct {
	Event   string         `json:"event" validate:"required"` // system / opportunity / application
	UserID  uint64         `json:"user_id" validate:"required"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ToNotificationEvent 将kafka消息转换为通知事件结构体
func ToNotificationEvent(msg *sarama.ConsumerMessage) (*NotificationEvent, error) {
	var event NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, err
	}
	if err := util.ValidateDTO(&event); err != nil {
		return nil, err
	}
	return &event, nil
}
