package dto

// UserRefDTO 消息/通知内嵌的用户引用
type UserRefDTO struct {
	UserID    uint64 `json:"user_id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
}
