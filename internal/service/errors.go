package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	InternalServerError = 500
)

var (
	ErrParamInvalid         = errors.New("参数错误")
	ErrUserNotFound         = errors.New("用户不存在")
	ErrUserBan              = errors.New("用户已被封禁")
	ErrGroupNotFound        = errors.New("群组不存在")
	ErrGroupNotMember       = errors.New("不是群组成员")
	ErrNotificationNotFound = errors.New("系统通知不存在")
	ErrTargetUserInvalid    = errors.New("目标用户无效")
	ErrTargetAmbiguous      = errors.New("单聊与群聊目标只能二选一")
	ErrConversation         = errors.New("会话异常")
	UnauthorizedError       = errors.New("权限不足")
	UnExpectedError         = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:         BadRequest,
	ErrUserNotFound:         NotFound,
	ErrUserBan:              Unauthorized,
	ErrGroupNotFound:        NotFound,
	ErrGroupNotMember:       Unauthorized,
	ErrNotificationNotFound: NotFound,
	ErrTargetUserInvalid:    BadRequest,
	ErrTargetAmbiguous:      BadRequest,
	ErrConversation:         BadRequest,
	UnauthorizedError:       Unauthorized,
	UnExpectedError:         InternalServerError,
}
