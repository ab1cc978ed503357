package consts

const (
	StreamUserKey     = "stream:user:"
	UserSimpleInfoKey = "user:simple:info:"
	BadgeUnreadKey    = "badge:unread:"
)

const (
	BadgeWarmLockKey = "badge:warm:lock"
)
