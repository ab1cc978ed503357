package handler

import (
	"strconv"

	"ileap/internal/api/dto"
	"ileap/internal/pkg/response"
	"ileap/internal/service"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notificationService service.NotificationService
}

func NewNotificationHandler(s service.NotificationService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: s,
	}
}

// SendNotification 管理端下发通知
func (h *NotificationHandler) SendNotification(c *gin.Context) {
	var req dto.SendNotificationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	res, err := h.notificationService.SendNotification(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, res)
}

// GetNotificationList 获取通知列表
func (h *NotificationHandler) GetNotificationList(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	unreadOnly := c.Query("unread_only") == "true"
	userID := c.GetUint64("user_id")

	list, err := h.notificationService.GetNotificationList(c.Request.Context(), userID, page, pageSize, unreadOnly)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, list)
}

// GetHistory 通知历史，ADMIN 角色可见全量
func (h *NotificationHandler) GetHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	userID := c.GetUint64("user_id")

	isAdmin := false
	for _, role := range c.GetStringSlice("roles") {
		if role == "ADMIN" {
			isAdmin = true
			break
		}
	}

	res, err := h.notificationService.GetNotificationHistory(c.Request.Context(), userID, isAdmin, page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, res)
}

// GetUnreadCount 获取未读数
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	userID := c.GetUint64("user_id")

	unread, err := h.notificationService.GetUnreadCount(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, unread)
}

// MarkRead 标记单条已读（幂等）
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")
	res, err := h.notificationService.MarkRead(c.Request.Context(), userID, req.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, res)
}

// MarkAllRead 一键已读
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := c.GetUint64("user_id")
	res, err := h.notificationService.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, res)
}
