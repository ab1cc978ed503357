package kafka

import (
	"context"
	log "log/slog"
	"strconv"
	"time"

	"ileap/internal/pkg/consts"
	"ileap/internal/pkg/mongo"
	"ileap/internal/service"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
)

type NotificationHandler struct {
	notificationRepo mongo.NotificationRepo
	publisher        service.FramePublisher
}

func NewNotificationHandler(notificationRepo mongo.NotificationRepo, publisher service.FramePublisher) *NotificationHandler {
	return &NotificationHandler{
		notificationRepo: notificationRepo,
		publisher:        publisher,
	}
}

func (s *NotificationHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info("notification consumer setup")
	return nil
}

func (s *NotificationHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("notification consumer cleanup")
	return nil
}

func (s *NotificationHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log.Info("topic-notification consume claim")
	err := pullMessageBatch(session, claim, s.logic)
	if err != nil {
		log.Error("process batch error", "err", err)
		return err
	}
	log.Info("topic-notification consume claim end")
	return nil
}

// logic 落库后再向用户的推送通道发一帧会话更新，驱动客户端刷新角标
func (s *NotificationHandler) logic(ctx context.Context, msg *sarama.ConsumerMessage) error {
	event, err := ToNotificationEvent(msg)
	if err != nil {
		// 坏事件不可重试，记录后丢弃
		log.Warn("drop malformed notification event", "err", err, "offset", msg.Offset)
		return nil
	}

	notification := &mongo.NotificationModel{
		UserID:    event.UserID,
		Title:     event.Title,
		Message:   event.Message,
		Type:      event.Event,
		Data:      event.Data,
		IsRead:    false,
		CreatedAt: time.Now(),
	}

	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		return errors.Wrap(err, "save notification")
	}

	channel := consts.StreamUserKey + strconv.FormatUint(event.UserID, 10)
	if err := s.publisher.PublishConversationUpdate(ctx, channel); err != nil {
		// 推送失败不影响落库结果，客户端靠轮询兜底
		log.Warn("publish notification frame failed", "err", err, "user_id", event.UserID)
	}
	return nil
}
