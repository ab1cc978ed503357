package api

import (
	"ileap/internal/api/middleware"
	"ileap/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.AuditMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		// 长连推送：SSE 为主，Websocket 作为备用通道。鉴权走查询参数
		streamGroup := apiGroup.Group("/stream")
		{
			streamGroup.GET("", group.StreamHandler.Connect)
			streamGroup.GET("/ws", group.WsHandler.Connect)
		}

		imGroup := apiGroup.Group("/im")
		imGroup.Use(middleware.AuthMiddleware())
		{
			imGroup.POST("/send", group.MessageHandler.SendMessage)
			imGroup.GET("/history", group.MessageHandler.GetChatHistory)
			imGroup.GET("/sync", group.MessageHandler.GetNewMessages)
			imGroup.GET("/list", group.MessageHandler.GetConversationList)
			imGroup.POST("/read", group.MessageHandler.MarkAsRead)
			imGroup.GET("/search", group.MessageHandler.SearchMessages)
			imGroup.GET("/unread", group.MessageHandler.GetTotalUnread)
		}

		notificationGroup := apiGroup.Group("/notifications")
		notificationGroup.Use(middleware.AuthMiddleware())
		{
			notificationGroup.GET("/list", group.NotificationHandler.GetNotificationList)
			notificationGroup.GET("/history", group.NotificationHandler.GetHistory)
			notificationGroup.GET("/unread", group.NotificationHandler.GetUnreadCount)
			notificationGroup.POST("/read", group.NotificationHandler.MarkRead)
			notificationGroup.POST("/read/all", group.NotificationHandler.MarkAllRead)

			// 需要登录 & 拥有 admin 角色
			adminGroup := notificationGroup.Group("")
			adminGroup.Use(middleware.CheckRoles("ADMIN"))
			{
				adminGroup.POST("/send", group.NotificationHandler.SendNotification)
			}
		}
	}

	return r
}
