package job

import (
	"context"
	"ileap/internal/pkg/consts"
	"ileap/internal/pkg/logger"
	"ileap/internal/pkg/redis"
	"ileap/internal/repository"
	"ileap/internal/service"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

// BadgeCacheJob 周期性预热近期活跃用户的全局未读角标缓存，
// 避免客户端拉取角标时大面积打到 MySQL
type BadgeCacheJob struct {
	messageSvc service.MessageService
	convRepo   repository.ConversationRepo
}

func NewBadgeCacheJob(messageSvc service.MessageService, convRepo repository.ConversationRepo) *BadgeCacheJob {
	return &BadgeCacheJob{
		messageSvc: messageSvc,
		convRepo:   convRepo,
	}
}

func (s *BadgeCacheJob) Run() {
	traceID := "job-" + uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, traceID)

	// 多实例部署时只允许一个实例执行预热
	jobID := uuid.NewString()
	locked, err := redis.TryLock(ctx, consts.BadgeWarmLockKey, jobID, 5*time.Minute, 1)
	if err != nil || !locked {
		return
	}
	defer redis.UnLock(ctx, consts.BadgeWarmLockKey, jobID)

	since := time.Now().Add(-24 * time.Hour)
	userIDs, err := s.convRepo.GetRecentlyActiveUserIDs(ctx, since)
	if err != nil {
		log.ErrorContext(ctx, "get recently active users error", "err", err)
		return
	}

	warmed := 0
	for _, uid := range userIDs {
		if _, err := s.messageSvc.GetTotalUnread(ctx, uid); err != nil {
			log.ErrorContext(ctx, "warm badge cache error", "userID", uid, "err", err)
			continue
		}
		warmed++
	}

	log.InfoContext(ctx, "badge cache warmed", "users", warmed)
}
