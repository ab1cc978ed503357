package service

import (
	"context"
	"errors"
	log "log/slog"
	"strconv"
	"time"

	"ileap/internal/api/dto"
	"ileap/internal/pkg/consts"
	"ileap/internal/pkg/minio"
	"ileap/internal/pkg/mongo"
	"ileap/internal/repository"

	"github.com/jinzhu/copier"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongoDB "go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultNotificationPageSize = 20
	maxNotificationPageSize     = 50
)

type NotificationService interface {
	SendNotification(ctx context.Context, req *dto.SendNotificationReq) (*dto.NotificationDTO, error)
	GetNotificationList(ctx context.Context, userID uint64, page, pageSize int, unreadOnly bool) (*dto.NotificationListDTO, error)
	GetNotificationHistory(ctx context.Context, userID uint64, isAdmin bool, page, pageSize int) (*dto.NotificationHistoryDTO, error)
	GetUnreadCount(ctx context.Context, userID uint64) (*dto.NotificationUnreadDTO, error)
	MarkRead(ctx context.Context, userID uint64, id string) (*dto.NotificationDTO, error)
	MarkAllRead(ctx context.Context, userID uint64) (*dto.MarkAllReadDTO, error)
}

type notificationServiceImpl struct {
	notificationRepo mongo.NotificationRepo
	userRepo         repository.UserRepo
	publisher        FramePublisher
}

func NewNotificationService(notificationRepo mongo.NotificationRepo, userRepo repository.UserRepo, publisher FramePublisher) NotificationService {
	return &notificationServiceImpl{
		notificationRepo: notificationRepo,
		userRepo:         userRepo,
		publisher:        publisher,
	}
}

// SendNotification 管理端直接下发一条通知。落库后向目标用户的
// 推送通道发一帧会话更新，与 Kafka 消费链路走同一条出口
func (s *notificationServiceImpl) SendNotification(ctx context.Context, req *dto.SendNotificationReq) (*dto.NotificationDTO, error) {
	notification := &mongo.NotificationModel{
		UserID:    req.UserID,
		Title:     req.Title,
		Message:   req.Message,
		Type:      req.Type,
		Data:      req.Data,
		IsRead:    false,
		CreatedAt: time.Now(),
	}
	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		return nil, err
	}

	channel := consts.StreamUserKey + strconv.FormatUint(req.UserID, 10)
	if err := s.publisher.PublishConversationUpdate(ctx, channel); err != nil {
		log.WarnContext(ctx, "publish notification frame failed", "err", err, "user_id", req.UserID)
	}
	return s.toNotificationDTO(notification), nil
}

// GetNotificationList 分页获取通知列表
func (s *notificationServiceImpl) GetNotificationList(ctx context.Context, userID uint64, page, pageSize int, unreadOnly bool) (*dto.NotificationListDTO, error) {
	page, pageSize = clampNotificationPage(page, pageSize)

	user, err := s.userRepo.GetUserById(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	limit := int64(pageSize)
	offset := int64((page - 1) * pageSize)

	list, err := s.notificationRepo.GetList(ctx, userID, limit, offset, unreadOnly)
	if err != nil {
		return nil, err
	}
	total, err := s.notificationRepo.Count(ctx, userID, unreadOnly)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.NotificationDTO, 0, len(list))
	for _, m := range list {
		res = append(res, s.toNotificationDTO(m))
	}

	totalPages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		totalPages++
	}
	return &dto.NotificationListDTO{
		Notifications: res,
		Total:         total,
		TotalPages:    totalPages,
		CurrentPage:   page,
	}, nil
}

// GetNotificationHistory 通知历史。
// 普通用户仅见自己的通知，ADMIN 可见全量
func (s *notificationServiceImpl) GetNotificationHistory(ctx context.Context, userID uint64, isAdmin bool, page, pageSize int) (*dto.NotificationHistoryDTO, error) {
	page, pageSize = clampNotificationPage(page, pageSize)

	limit := int64(pageSize)
	offset := int64((page - 1) * pageSize)

	own, err := s.notificationRepo.GetList(ctx, userID, limit, offset, false)
	if err != nil {
		return nil, err
	}

	res := &dto.NotificationHistoryDTO{
		UserNotifications: make([]*dto.NotificationDTO, 0, len(own)),
	}
	for _, m := range own {
		res.UserNotifications = append(res.UserNotifications, s.toNotificationDTO(m))
	}

	if isAdmin {
		all, err := s.notificationRepo.GetAllList(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		res.AllNotifications = make([]*dto.NotificationDTO, 0, len(all))
		for _, m := range all {
			res.AllNotifications = append(res.AllNotifications, s.toNotificationDTO(m))
		}
	}

	user, err := s.userRepo.GetUserById(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	res.UserInfo = &dto.UserRefDTO{
		UserID:    user.ID,
		Nickname:  user.Nickname,
		AvatarURL: minio.GetPublicURL(user.AvatarURL),
	}
	return res, nil
}

func clampNotificationPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultNotificationPageSize
	}
	if pageSize > maxNotificationPageSize {
		pageSize = maxNotificationPageSize
	}
	return page, pageSize
}

// GetUnreadCount 获取未读数
func (s *notificationServiceImpl) GetUnreadCount(ctx context.Context, userID uint64) (*dto.NotificationUnreadDTO, error) {
	count, err := s.notificationRepo.GetUnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &dto.NotificationUnreadDTO{UnreadCount: count}, nil
}

// MarkRead 标记单条已读。重复标记为幂等成功；
// 归属他人与不存在的通知返回同一个错误，不暴露通知是否存在。
func (s *notificationServiceImpl) MarkRead(ctx context.Context, userID uint64, id string) (*dto.NotificationDTO, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrParamInvalid
	}

	notification, err := s.notificationRepo.MarkAsRead(ctx, userID, objectID)
	if err != nil {
		if errors.Is(err, mongoDB.ErrNoDocuments) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	return s.toNotificationDTO(notification), nil
}

// MarkAllRead 一键已读
func (s *notificationServiceImpl) MarkAllRead(ctx context.Context, userID uint64) (*dto.MarkAllReadDTO, error) {
	modified, err := s.notificationRepo.MarkAllAsRead(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &dto.MarkAllReadDTO{ModifiedCount: modified}, nil
}

func (s *notificationServiceImpl) toNotificationDTO(m *mongo.NotificationModel) *dto.NotificationDTO {
	d := &dto.NotificationDTO{}
	_ = copier.Copy(d, m)
	d.ID = m.ID.Hex()
	d.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)
	if m.ReadAt != nil {
		readAt := m.ReadAt.UTC().Format(time.RFC3339)
		d.ReadAt = &readAt
	}
	return d
}
