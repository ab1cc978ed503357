package service

import (
	"context"
	"time"

	"ileap/internal/pkg/redis"
	"ileap/pkg/realtime"

	"github.com/goccy/go-json"
)

// FramePublisher 把事件帧投递到用户个人推送频道。
// 抽象出来便于测试注入假实现。
type FramePublisher interface {
	PublishNewMessage(ctx context.Context, channel string, msg *realtime.WireMessage) error
	PublishMessageRead(ctx context.Context, channel string, msg *realtime.WireMessage, readerID string, readSeq uint64) error
	PublishConversationUpdate(ctx context.Context, channel string) error
}

type redisFramePublisher struct{}

func NewRedisFramePublisher() FramePublisher {
	return &redisFramePublisher{}
}

func (p *redisFramePublisher) PublishNewMessage(ctx context.Context, channel string, msg *realtime.WireMessage) error {
	return p.publish(ctx, channel, &realtime.EventFrame{
		Type: realtime.EventNewMessage,
		Data: &realtime.FrameData{Message: msg},
	})
}

func (p *redisFramePublisher) PublishMessageRead(ctx context.Context, channel string, msg *realtime.WireMessage, readerID string, readSeq uint64) error {
	return p.publish(ctx, channel, &realtime.EventFrame{
		Type: realtime.EventMessageRead,
		Data: &realtime.FrameData{Message: msg, ReaderID: readerID, ReadSeq: readSeq},
	})
}

func (p *redisFramePublisher) PublishConversationUpdate(ctx context.Context, channel string) error {
	return p.publish(ctx, channel, &realtime.EventFrame{
		Type: realtime.EventConversationUpdate,
	})
}

func (p *redisFramePublisher) publish(ctx context.Context, channel string, frame *realtime.EventFrame) error {
	frame.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return redis.Publish(ctx, channel, data)
}
