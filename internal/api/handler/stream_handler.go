package handler

import (
	log "log/slog"
	"strconv"
	"time"

	"ileap/internal/api/config"
	"ileap/internal/pkg/consts"
	"ileap/internal/pkg/redis"
	"ileap/internal/pkg/response"
	"ileap/internal/pkg/security"
	"ileap/internal/service"
	"ileap/pkg/realtime"

	"github.com/gin-gonic/gin"
)

const defaultHeartbeatInterval = 30 * time.Second

// StreamHandler 长连推送端点 (SSE)。
// 每个连接订阅用户的个人频道，业务侧发布的事件帧原样转发。
type StreamHandler struct {
}

func NewStreamHandler() *StreamHandler {
	return &StreamHandler{}
}

// Connect 建立 SSE 长连接
func (s *StreamHandler) Connect(c *gin.Context) {
	// EventSource 无法携带自定义 Header，token 走查询参数
	token := c.Query("token")
	if token == "" {
		response.Error(c, service.UnauthorizedError)
		return
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("SSE 鉴权失败", "err", err)
		response.Error(c, service.UnauthorizedError)
		return
	}
	userID := claims.UserID

	channel := consts.StreamUserKey + strconv.FormatUint(userID, 10)
	pubsub := redis.Subscribe(c.Request.Context(), channel)
	defer func() {
		_ = pubsub.Close()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if !s.writeFrame(c, &realtime.EventFrame{Type: realtime.EventConnected}) {
		return
	}

	heartbeat := defaultHeartbeatInterval
	if config.Cfg != nil && config.Cfg.Stream.HeartbeatInterval > 0 {
		heartbeat = time.Duration(config.Cfg.Stream.HeartbeatInterval) * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	log.Info("用户 SSE 连接已建立", "userID", userID)

	redisCh := pubsub.Channel()
	for {
		select {
		case <-c.Request.Context().Done():
			log.Info("用户 SSE 连接已断开", "userID", userID)
			return
		case msg, ok := <-redisCh:
			if !ok {
				return
			}
			if !s.writeRaw(c, []byte(msg.Payload)) {
				return
			}
		case <-ticker.C:
			if !s.writeFrame(c, &realtime.EventFrame{Type: realtime.EventHeartbeat}) {
				return
			}
		}
	}
}

func (s *StreamHandler) writeFrame(c *gin.Context, frame *realtime.EventFrame) bool {
	frame.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := frame.EncodeSSE()
	if err != nil {
		log.Error("SSE 帧编码失败", "err", err)
		return false
	}
	if _, err := c.Writer.Write(data); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

func (s *StreamHandler) writeRaw(c *gin.Context, payload []byte) bool {
	if _, err := c.Writer.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := c.Writer.Write(payload); err != nil {
		return false
	}
	if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
