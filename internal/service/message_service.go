package service

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"

	"ileap/internal/api/dto"
	"ileap/internal/model"
	"ileap/internal/pkg/consts"
	"ileap/internal/pkg/es"
	"ileap/internal/pkg/minio"
	"ileap/internal/pkg/mongo"
	"ileap/internal/pkg/redis"
	"ileap/internal/repository"
	"ileap/pkg/realtime"
)

const badgeCacheTTL = 5 * time.Minute

// MessageService 消息服务接口定义
type MessageService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	GetOrCreateConversation(ctx context.Context, userID, targetUserID uint64) (uint64, error)
	GetChatHistory(ctx context.Context, userID uint64, convID uint64, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error)
	SyncMessages(ctx context.Context, userID uint64, convID uint64, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	MarkAsRead(ctx context.Context, userID uint64, convID uint64, seq uint64) error
	SearchMessages(ctx context.Context, userID uint64, keyword string, page, limit int) ([]*dto.MessageDTO, error)
	GetTotalUnread(ctx context.Context, userID uint64) (int64, error)
	Close()
}

type messageServiceImpl struct {
	convRepo    repository.ConversationRepo
	userRepo    repository.UserRepo
	groupRepo   repository.GroupRepo
	messageRepo mongo.MessageRepo
	esRepo      es.MessageRepo
	publisher   FramePublisher

	retryChan chan *mongo.Message
	wg        sync.WaitGroup
	stopChan  chan struct{}
}

// NewMessageService 构造函数：初始化服务并启动异步校准工作池
func NewMessageService(
	convRepo repository.ConversationRepo,
	userRepo repository.UserRepo,
	groupRepo repository.GroupRepo,
	messageRepo mongo.MessageRepo,
	esRepo es.MessageRepo,
	publisher FramePublisher,
) MessageService {
	s := &messageServiceImpl{
		convRepo:    convRepo,
		userRepo:    userRepo,
		groupRepo:   groupRepo,
		messageRepo: messageRepo,
		esRepo:      esRepo,
		publisher:   publisher,
		retryChan:   make(chan *mongo.Message, 2048),
		stopChan:    make(chan struct{}),
	}

	workerCount := 5
	s.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go s.calibrationWorker()
	}

	return s
}

// SendMessage 发送消息。单聊与群聊共用一条链路：
// MySQL 定序 -> MongoDB 落库 -> ES 入索引 -> 推送到各接收者个人频道。
func (s *messageServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	convID := req.ConversationID
	var group *model.Group

	if convID == 0 {
		if req.TargetUserID != 0 && req.GroupID != 0 {
			return nil, ErrTargetAmbiguous
		}
		switch {
		case req.GroupID != 0:
			g, err := s.groupRepo.GetGroupById(ctx, req.GroupID)
			if err != nil {
				return nil, err
			}
			if g == nil {
				return nil, ErrGroupNotFound
			}
			group = g
			convID = g.ConversationID
		case req.TargetUserID != 0:
			id, err := s.GetOrCreateConversation(ctx, senderID, req.TargetUserID)
			if err != nil {
				return nil, err
			}
			convID = id
		default:
			return nil, ErrTargetUserInvalid
		}
	}

	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		return nil, ErrConversation
	}
	isMember, _ := s.convRepo.IsMember(ctx, convID, senderID)
	if !isMember {
		if conv.Type == consts.ConversationTypeGroup {
			return nil, ErrGroupNotMember
		}
		return nil, UnauthorizedError
	}
	if group == nil && conv.Type == consts.ConversationTypeGroup {
		group, _ = s.groupRepo.GetGroupByConversationID(ctx, convID)
	}

	// MySQL 原子定序
	newSeq, err := s.convRepo.IncrMaxSeq(ctx, convID, req.Content, int8(req.MsgType), senderID)
	if err != nil {
		return nil, err
	}

	msgModel := &mongo.Message{
		ConversationID: convID,
		SenderID:       senderID,
		MsgType:        req.MsgType,
		Content:        req.Content,
		Payload:        req.Payload,
		Seq:            newSeq,
		CreatedAt:      time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.messageRepo.SaveMessage(writeCtx, msgModel); err != nil {
		select {
		case s.retryChan <- msgModel:
		default:
		}
	}

	go s.indexMessage(msgModel)
	go s.fanOutNewMessage(conv, group, msgModel, senderID)

	return s.toMessageDTO(ctx, msgModel), nil
}

// GetOrCreateConversation 针对单聊：获取或创建会话
func (s *messageServiceImpl) GetOrCreateConversation(ctx context.Context, userID, targetUserID uint64) (uint64, error) {
	target, err := s.userRepo.GetUserById(ctx, targetUserID)
	if err != nil {
		return 0, err
	}
	if target == nil {
		return 0, ErrTargetUserInvalid
	}
	if target.IsBan {
		return 0, ErrUserBan
	}

	// 生成单聊唯一的 PeerKey
	var peerKey string
	if userID < targetUserID {
		peerKey = fmt.Sprintf("%d_%d", userID, targetUserID)
	} else {
		peerKey = fmt.Sprintf("%d_%d", targetUserID, userID)
	}

	conv, err := s.convRepo.GetConversationByPeerKey(ctx, peerKey)
	if err == nil {
		return conv.ID, nil
	}

	newConv := &model.Conversation{
		Type:          consts.ConversationTypeDirect,
		PeerKey:       peerKey,
		LastMessageAt: time.Now(),
	}
	members := []*model.ConversationMember{
		{UserID: userID, IsVisible: 1, JoinedAt: time.Now()},
		{UserID: targetUserID, IsVisible: 1, JoinedAt: time.Now()},
	}

	if err := s.convRepo.CreateConversation(ctx, newConv, members); err != nil {
		// 并发首次互发时撞 peer_key 唯一索引，回读胜出方创建的会话
		if isDuplicateError(err) {
			conv, err := s.convRepo.GetConversationByPeerKey(ctx, peerKey)
			if err != nil {
				return 0, err
			}
			return conv.ID, nil
		}
		return 0, err
	}
	return newConv.ID, nil
}

func isDuplicateError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	return false
}

// GetChatHistory 拉取历史，包含空洞自愈
func (s *messageServiceImpl) GetChatHistory(ctx context.Context, userID uint64, convID uint64, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error) {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return nil, UnauthorizedError
	}

	models, err := s.messageRepo.GetHistory(ctx, convID, lastSeq, pageSize)
	if err != nil {
		return nil, err
	}

	if lastSeq == 0 {
		conv, err := s.convRepo.GetConversation(ctx, convID)
		if err == nil {
			hasGap := (len(models) == 0 && conv.MaxMsgSeq > 0) || (len(models) > 0 && models[0].Seq < conv.MaxMsgSeq)
			if hasGap {
				// 优先取真实文档，校准队列还没追上时才用会话冗余字段兜底
				head, headErr := s.messageRepo.GetMessageBySeq(ctx, conv.ID, conv.MaxMsgSeq)
				if headErr != nil || head == nil {
					head = &mongo.Message{
						ConversationID: conv.ID,
						Content:        conv.LastMsgContent,
						MsgType:        int(conv.LastMsgType),
						SenderID:       conv.LastSenderID,
						Seq:            conv.MaxMsgSeq,
						CreatedAt:      conv.LastMessageAt,
					}
				}
				models = append([]*mongo.Message{head}, models...)
			}
		}
	}

	return s.toMessageDTOs(ctx, models), nil
}

// SyncMessages 增量同步比 lastSeq 更新的消息
func (s *messageServiceImpl) SyncMessages(ctx context.Context, userID uint64, convID uint64, lastSeq uint64, pageSize int) ([]*dto.MessageDTO, error) {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return nil, UnauthorizedError
	}

	models, err := s.messageRepo.SyncMessages(ctx, convID, lastSeq, pageSize)
	if err != nil {
		return nil, err
	}
	return s.toMessageDTOs(ctx, models), nil
}

// GetConversationList 获取会话列表并补全对端/群组信息
func (s *messageServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	members, err := s.convRepo.GetUserConversationMemList(ctx, userID)
	if err != nil {
		return nil, err
	}

	peerIDs := make([]uint64, 0, len(members))
	directConvIDs := make([]uint64, 0, len(members))
	groupIDs := make([]uint64, 0)
	res := make([]*dto.ConversationDTO, 0, len(members))
	for _, m := range members {
		d := &dto.ConversationDTO{
			ConversationID: m.ConversationID,
			Type:           m.Conversation.Type,
			GroupID:        m.Conversation.GroupID,
			LastMsgContent: m.Conversation.LastMsgContent,
			LastMsgType:    m.Conversation.LastMsgType,
			LastSenderID:   m.Conversation.LastSenderID,
			LastMessageAt:  m.Conversation.LastMessageAt,
			UnreadCount:    m.UnreadCount,
			IsMuted:        m.IsMuted == 1,
			IsPinned:       m.IsPinned == 1,
		}

		if m.Conversation.Type == consts.ConversationTypeDirect {
			peerID, err := s.parsePeerID(m.Conversation.PeerKey, userID)
			if err == nil {
				d.PeerID = peerID
				peerIDs = append(peerIDs, peerID)
				directConvIDs = append(directConvIDs, m.ConversationID)
			}
		} else if m.Conversation.GroupID > 0 {
			groupIDs = append(groupIDs, m.Conversation.GroupID)
		}
		res = append(res, d)
	}

	s.fillPeerInfo(ctx, res, peerIDs, groupIDs)
	s.fillPeerReadSeq(ctx, res, directConvIDs, peerIDs)
	return res, nil
}

// fillPeerReadSeq 补全单聊对端的已读进度，供前端渲染已读回执。
// 查询失败只降级为不展示回执，不影响列表返回。
func (s *messageServiceImpl) fillPeerReadSeq(ctx context.Context, list []*dto.ConversationDTO, convIDs, peerIDs []uint64) {
	if len(convIDs) == 0 {
		return
	}
	seqMap, err := s.convRepo.GetConvPeersReadSeq(ctx, convIDs, peerIDs)
	if err != nil {
		log.Warn("Failed to load peer read seq", "err", err)
		return
	}
	for _, d := range list {
		if seq, ok := seqMap[d.ConversationID]; ok {
			d.PeerReadSeq = seq
		}
	}
}

// MarkAsRead 标记已读并向其余成员推送已读回执
func (s *messageServiceImpl) MarkAsRead(ctx context.Context, userID uint64, convID uint64, seq uint64) error {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil || !isMember {
		return UnauthorizedError
	}

	conv, err := s.convRepo.GetConversation(ctx, convID)
	if err != nil {
		return err
	}

	targetSeq := seq
	if targetSeq > conv.MaxMsgSeq {
		targetSeq = conv.MaxMsgSeq
	}

	if err = s.convRepo.UpdateReadSeq(ctx, convID, userID, targetSeq); err != nil {
		return err
	}

	s.invalidateBadgeCache(ctx, userID)

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		memberIDs, err := s.convRepo.GetMemberIDs(bgCtx, convID)
		if err != nil {
			log.Error("Failed to load members for read receipt", "err", err)
			return
		}
		readerID := strconv.FormatUint(userID, 10)
		wireMsg := &realtime.WireMessage{
			ID:     strconv.FormatUint(convID, 10),
			Sender: &realtime.UserRef{ID: readerID},
		}
		for _, memberID := range memberIDs {
			if memberID == userID {
				continue
			}
			channel := consts.StreamUserKey + strconv.FormatUint(memberID, 10)
			if err := s.publisher.PublishMessageRead(bgCtx, channel, wireMsg, readerID, targetSeq); err != nil {
				log.Error("Failed to publish read receipt", "err", err, "member", memberID)
			}
		}
	}()

	return nil
}

// SearchMessages 在用户可见的会话范围内全文检索
func (s *messageServiceImpl) SearchMessages(ctx context.Context, userID uint64, keyword string, page, limit int) ([]*dto.MessageDTO, error) {
	members, err := s.convRepo.GetUserConversationMemList(ctx, userID)
	if err != nil {
		return nil, err
	}
	convIDs := make([]uint64, 0, len(members))
	for _, m := range members {
		convIDs = append(convIDs, m.ConversationID)
	}

	from := (page - 1) * limit
	hits, err := s.esRepo.SearchMessages(ctx, convIDs, keyword, from, limit)
	if err != nil {
		return nil, err
	}

	models := make([]*mongo.Message, 0, len(hits))
	for _, h := range hits {
		models = append(models, &mongo.Message{
			ID:             h.ID,
			ConversationID: h.ConversationID,
			SenderID:       h.SenderID,
			Content:        h.Content,
			Seq:            h.Seq,
			CreatedAt:      h.CreatedAt,
		})
	}
	return s.toMessageDTOs(ctx, models), nil
}

// GetTotalUnread 全局未读数，带 Redis 缓存读穿
func (s *messageServiceImpl) GetTotalUnread(ctx context.Context, userID uint64) (int64, error) {
	cacheKey := consts.BadgeUnreadKey + strconv.FormatUint(userID, 10)
	if cached, err := redis.GetValue(ctx, cacheKey); err == nil && cached != "" {
		if total, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return total, nil
		}
	}

	total, err := s.convRepo.GetTotalUnreadCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	_ = redis.SetWithExpiration(ctx, cacheKey, total, badgeCacheTTL)
	return total, nil
}

func (s *messageServiceImpl) Close() {
	close(s.stopChan)
	s.wg.Wait()
	log.Info("MessageService shut down gracefully")
}

// fanOutNewMessage 把新消息推给除发送者外的全部成员
func (s *messageServiceImpl) fanOutNewMessage(conv *model.Conversation, group *model.Group, msg *mongo.Message, senderID uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	memberIDs, err := s.convRepo.GetMemberIDs(ctx, conv.ID)
	if err != nil {
		log.Error("Failed to load members for fan-out", "err", err)
		return
	}

	wireMsg := &realtime.WireMessage{
		ID:        msg.ID,
		Sender:    s.toUserRef(ctx, senderID),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if group != nil {
		wireMsg.Group = &realtime.GroupRef{
			ID:   strconv.FormatUint(group.ID, 10),
			Name: group.Name,
		}
	}

	// 先推完全部成员再失效角标缓存，缓存抖动不拖慢投递
	for _, memberID := range memberIDs {
		if memberID == senderID {
			continue
		}
		if group == nil {
			wireMsg.Receiver = &realtime.UserRef{ID: strconv.FormatUint(memberID, 10)}
		}
		channel := consts.StreamUserKey + strconv.FormatUint(memberID, 10)
		if err := s.publisher.PublishNewMessage(ctx, channel, wireMsg); err != nil {
			log.Error("Failed to publish message", "err", err, "member", memberID)
		}
	}
	for _, memberID := range memberIDs {
		if memberID != senderID {
			s.invalidateBadgeCache(ctx, memberID)
		}
	}
}

// indexMessage 异步写入 ES，失败只记日志（检索允许短暂滞后）
func (s *messageServiceImpl) indexMessage(msg *mongo.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc := &es.MessageES{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Seq:            msg.Seq,
		CreatedAt:      msg.CreatedAt,
	}
	if err := s.esRepo.IndexMessage(ctx, doc); err != nil {
		log.Warn("Failed to index message", "err", err, "seq", msg.Seq)
	}
}

func (s *messageServiceImpl) invalidateBadgeCache(ctx context.Context, userID uint64) {
	cacheKey := consts.BadgeUnreadKey + strconv.FormatUint(userID, 10)
	if err := redis.DeleteKey(ctx, cacheKey); err != nil {
		log.Warn("Failed to invalidate badge cache", "err", err, "user_id", userID)
	}
}

// fillPeerInfo 批量补全单聊对端与群组的名称/头像
func (s *messageServiceImpl) fillPeerInfo(ctx context.Context, list []*dto.ConversationDTO, peerIDs, groupIDs []uint64) {
	userMap := make(map[uint64]*model.User)
	if len(peerIDs) > 0 {
		users, err := s.userRepo.GetUserByIds(ctx, peerIDs)
		if err == nil {
			for _, u := range users {
				userMap[u.ID] = u
			}
		}
	}

	groupMap := make(map[uint64]*model.Group)
	if len(groupIDs) > 0 {
		groups, err := s.groupRepo.GetGroupsByIds(ctx, groupIDs)
		if err == nil {
			for _, g := range groups {
				groupMap[g.ID] = g
			}
		}
	}

	for _, d := range list {
		if d.Type == consts.ConversationTypeDirect {
			if u, ok := userMap[d.PeerID]; ok {
				d.PeerName = u.Nickname
				d.AvatarURL = minio.GetPublicURL(u.AvatarURL)
			}
		} else if g, ok := groupMap[d.GroupID]; ok {
			d.PeerName = g.Name
			if g.AvatarURL != "" {
				d.AvatarURL = minio.GetPublicURL(g.AvatarURL)
			}
		}
	}
}

func (s *messageServiceImpl) calibrationWorker() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.retryChan:
			backoff := time.Second
			for i := 0; i < 3; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := s.messageRepo.SaveMessage(ctx, msg)
				cancel()
				if err == nil {
					break
				}
				time.Sleep(backoff)
				backoff *= 2
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *messageServiceImpl) parsePeerID(peerKey string, currentUserID uint64) (uint64, error) {
	var u1, u2 uint64
	_, err := fmt.Sscanf(peerKey, "%d_%d", &u1, &u2)
	if err != nil {
		return 0, err
	}
	if u1 == currentUserID {
		return u2, nil
	}
	return u1, nil
}

func (s *messageServiceImpl) toUserRef(ctx context.Context, userID uint64) *realtime.UserRef {
	ref := &realtime.UserRef{ID: strconv.FormatUint(userID, 10)}

	cacheKey := consts.UserSimpleInfoKey + strconv.FormatUint(userID, 10)
	if value, err := redis.GetValue(ctx, cacheKey); err == nil && value != "" {
		cached := &dto.UserRefDTO{}
		if err := json.Unmarshal([]byte(value), cached); err == nil {
			ref.Name = cached.Nickname
			ref.AvatarURL = cached.AvatarURL
			return ref
		}
	}

	user, err := s.userRepo.GetUserById(ctx, userID)
	if err == nil && user != nil {
		ref.Name = user.Nickname
		ref.AvatarURL = minio.GetPublicURL(user.AvatarURL)
		cached := &dto.UserRefDTO{UserID: userID, Nickname: ref.Name, AvatarURL: ref.AvatarURL}
		if jsonStr, err := json.Marshal(cached); err == nil {
			_ = redis.SetWithExpiration(ctx, cacheKey, string(jsonStr), time.Hour*1)
		}
	}
	return ref
}

func (s *messageServiceImpl) toMessageDTO(ctx context.Context, m *mongo.Message) *dto.MessageDTO {
	d := &dto.MessageDTO{
		ID: m.ID, ConversationID: m.ConversationID,
		MsgType: m.MsgType, Content: m.Content, Payload: m.Payload,
		Seq: m.Seq, CreatedAt: m.CreatedAt,
	}
	if m.SenderID > 0 {
		d.Sender = &dto.UserRefDTO{UserID: m.SenderID}
		user, err := s.userRepo.GetUserById(ctx, m.SenderID)
		if err == nil && user != nil {
			d.Sender.Nickname = user.Nickname
			d.Sender.AvatarURL = minio.GetPublicURL(user.AvatarURL)
		}
	}
	return d
}

func (s *messageServiceImpl) toMessageDTOs(ctx context.Context, models []*mongo.Message) []*dto.MessageDTO {
	senderIDs := make([]uint64, 0, len(models))
	seen := make(map[uint64]bool)
	for _, m := range models {
		if m.SenderID > 0 && !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	userMap := make(map[uint64]*model.User)
	if len(senderIDs) > 0 {
		users, err := s.userRepo.GetUserByIds(ctx, senderIDs)
		if err == nil {
			for _, u := range users {
				userMap[u.ID] = u
			}
		}
	}

	res := make([]*dto.MessageDTO, 0, len(models))
	for _, m := range models {
		d := &dto.MessageDTO{
			ID: m.ID, ConversationID: m.ConversationID,
			MsgType: m.MsgType, Content: m.Content, Payload: m.Payload,
			Seq: m.Seq, CreatedAt: m.CreatedAt,
		}
		if m.SenderID > 0 {
			d.Sender = &dto.UserRefDTO{UserID: m.SenderID}
			if u, ok := userMap[m.SenderID]; ok {
				d.Sender.Nickname = u.Nickname
				d.Sender.AvatarURL = minio.GetPublicURL(u.AvatarURL)
			}
		}
		res = append(res, d)
	}
	return res
}
