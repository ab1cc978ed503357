package api

import "ileap/internal/api/handler"

// HandlersGroup 封装了所有已初始化的 Handler 实例
type HandlersGroup struct {
	MessageHandler      *handler.MessageHandler
	NotificationHandler *handler.NotificationHandler
	StreamHandler       *handler.StreamHandler
	WsHandler           *handler.WsHandler
}
