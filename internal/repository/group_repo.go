package repository

import (
	"context"
	"errors"

	"ileap/internal/model"

	"gorm.io/gorm"
)

type GroupRepo interface {
	GetGroupById(ctx context.Context, id uint64) (*model.Group, error)
	GetGroupsByIds(ctx context.Context, ids []uint64) ([]*model.Group, error)
	GetGroupByConversationID(ctx context.Context, convID uint64) (*model.Group, error)
}

type groupRepoImpl struct {
	db *gorm.DB
}

func NewGroupRepo(db *gorm.DB) GroupRepo {
	return &groupRepoImpl{db: db}
}

func (s *groupRepoImpl) GetGroupById(ctx context.Context, id uint64) (*model.Group, error) {
	group := &model.Group{}
	result := s.db.WithContext(ctx).First(group, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return group, nil
}

func (s *groupRepoImpl) GetGroupsByIds(ctx context.Context, ids []uint64) ([]*model.Group, error) {
	groups := make([]*model.Group, 0)
	result := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&groups)
	if result.Error != nil {
		return nil, result.Error
	}
	return groups, nil
}

func (s *groupRepoImpl) GetGroupByConversationID(ctx context.Context, convID uint64) (*model.Group, error) {
	group := &model.Group{}
	result := s.db.WithContext(ctx).Where("conversation_id = ?", convID).First(group)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return group, nil
}
