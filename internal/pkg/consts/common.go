package consts

const (
	DefaultAvatarURL = "default_avatar.png"
)

const (
	ConversationTypeDirect = 1
	ConversationTypeGroup  = 2
)

const (
	NotificationTypeSystem      = "system"
	NotificationTypeOpportunity = "opportunity"
	NotificationTypeApplication = "application"
)
