package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type NotificationRepo interface {
	Create(ctx context.Context, n *NotificationModel) error
	GetList(ctx context.Context, userID uint64, limit, offset int64, unreadOnly bool) ([]*NotificationModel, error)
	GetAllList(ctx context.Context, limit, offset int64) ([]*NotificationModel, error)
	Count(ctx context.Context, userID uint64, unreadOnly bool) (int64, error)
	MarkAsRead(ctx context.Context, userID uint64, id primitive.ObjectID) (*NotificationModel, error)
	MarkAllAsRead(ctx context.Context, userID uint64) (int64, error)
	GetUnreadCount(ctx context.Context, userID uint64) (int64, error)
}

type notificationRepoImpl struct {
	col *mongo.Collection
}

func NewNotificationRepo(db *mongo.Database) NotificationRepo {
	return &notificationRepoImpl{
		col: db.Collection("notification"),
	}
}

// Create 插入新通知
func (s *notificationRepoImpl) Create(ctx context.Context, n *NotificationModel) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.col.InsertOne(ctx, n)
	return err
}

// GetList 分页获取用户的通知列表 (按时间倒序)
func (s *notificationRepoImpl) GetList(ctx context.Context, userID uint64, limit, offset int64, unreadOnly bool) ([]*NotificationModel, error) {
	filter := bson.M{"user_id": userID}
	if unreadOnly {
		filter["is_read"] = false
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var list []*NotificationModel
	if err = cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetAllList 管理端全量通知列表 (按时间倒序)
func (s *notificationRepoImpl) GetAllList(ctx context.Context, limit, offset int64) ([]*NotificationModel, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := s.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var list []*NotificationModel
	if err = cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Count 用户通知总数
func (s *notificationRepoImpl) Count(ctx context.Context, userID uint64, unreadOnly bool) (int64, error) {
	filter := bson.M{"user_id": userID}
	if unreadOnly {
		filter["is_read"] = false
	}
	return s.col.CountDocuments(ctx, filter)
}

// MarkAsRead 标记单条通知为已读。
// 过滤条件带 is_read=false，read_at 只会被第一次调用置位；
// 已读通知重复标记直接返回现状，不改动任何字段。
// 归属他人或不存在的通知统一返回 ErrNoDocuments，不向调用方泄露存在性。
func (s *notificationRepoImpl) MarkAsRead(ctx context.Context, userID uint64, id primitive.ObjectID) (*NotificationModel, error) {
	now := time.Now()
	filter := bson.M{"_id": id, "user_id": userID, "is_read": false}
	update := bson.M{"$set": bson.M{"is_read": true, "read_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated NotificationModel
	err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// 未命中：要么已读 (幂等成功)，要么归属他人/不存在
	var existing NotificationModel
	err = s.col.FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&existing)
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// MarkAllAsRead 一键清除未读，返回实际改动条数
func (s *notificationRepoImpl) MarkAllAsRead(ctx context.Context, userID uint64) (int64, error) {
	filter := bson.M{"user_id": userID, "is_read": false}
	update := bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now()}}
	result, err := s.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// GetUnreadCount 获取用户的未读通知总数
func (s *notificationRepoImpl) GetUnreadCount(ctx context.Context, userID uint64) (int64, error) {
	filter := bson.M{"user_id": userID, "is_read": false}
	return s.col.CountDocuments(ctx, filter)
}
