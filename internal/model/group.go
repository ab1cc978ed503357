package model

import "time"

// Group 群组主表，成员关系复用 conversation_members
type Group struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string    `gorm:"type:varchar(100);not null" json:"name"`
	AvatarURL      string    `gorm:"type:varchar(512);column:avatar_url" json:"avatarUrl"`
	OwnerID        uint64    `gorm:"not null;index" json:"ownerId"`
	ConversationID uint64    `gorm:"uniqueIndex" json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Group) TableName() string { return "groups" }
