package dto

// NotificationDTO 系统通知返回对象
type NotificationDTO struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"` // system / opportunity / application
	Data      map[string]any `json:"data"` // 扩展字段
	IsRead    bool           `json:"is_read"`
	ReadAt    *string        `json:"read_at"`
	CreatedAt string         `json:"created_at"`
}

// SendNotificationReq 管理端下发通知请求
type SendNotificationReq struct {
	UserID  uint64         `json:"user_id" binding:"required"`
	Title   string         `json:"title" binding:"required"`
	Message string         `json:"message"`
	Type    string         `json:"type" binding:"required,oneof=system opportunity application"`
	Data    map[string]any `json:"data"`
}

// NotificationListDTO 通知分页返回
type NotificationListDTO struct {
	Notifications []*NotificationDTO `json:"notifications"`
	Total         int64              `json:"total"`
	TotalPages    int64              `json:"total_pages"`
	CurrentPage   int                `json:"current_page"`
}

// NotificationHistoryDTO 通知历史返回。AllNotifications 仅 ADMIN 返回
type NotificationHistoryDTO struct {
	UserInfo          *UserRefDTO        `json:"user_info"`
	UserNotifications []*NotificationDTO `json:"user_notifications"`
	AllNotifications  []*NotificationDTO `json:"all_notifications,omitempty"`
}

// NotificationUnreadDTO 未读数返回
type NotificationUnreadDTO struct {
	UnreadCount int64 `json:"unread_count"`
}

// MarkAllReadDTO 全量已读返回
type MarkAllReadDTO struct {
	ModifiedCount int64 `json:"modified_count"`
}
