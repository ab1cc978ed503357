package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ileap/internal/api/config"
	"ileap/internal/api/dto"
	"ileap/internal/model"
	"ileap/internal/pkg/consts"
	"ileap/internal/pkg/es"
	"ileap/internal/pkg/mongo"
	"ileap/internal/pkg/redis"

	goredis "github.com/redis/go-redis/v9"
)

func TestMain(m *testing.M) {
	// 单测不依赖外部组件：缓存读写全部走失败分支。
	// 拨号必须快速失败，否则重试耗掉异步推送的超时预算
	config.Cfg = &config.Config{}
	redis.Rdb = goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: time.Millisecond,
		MaxRetries:  -1,
	})
	m.Run()
}

type fakeConvRepo struct {
	conv         *model.Conversation
	convByKey    *model.Conversation
	members      []uint64
	isMember     bool
	totalUnread  int64
	memList      []*model.ConversationMember
	peersReadSeq map[uint64]uint64

	nextSeq      uint64
	readSeqCalls []uint64
	createdConv  *model.Conversation
	createErr    error
}

func (f *fakeConvRepo) CreateConversation(_ context.Context, conv *model.Conversation, _ []*model.ConversationMember) error {
	if f.createErr != nil {
		return f.createErr
	}
	conv.ID = 501
	f.createdConv = conv
	return nil
}

func (f *fakeConvRepo) GetConversation(_ context.Context, convID uint64) (*model.Conversation, error) {
	if f.conv == nil || f.conv.ID != convID {
		return nil, errors.New("record not found")
	}
	return f.conv, nil
}

func (f *fakeConvRepo) GetConversationByPeerKey(_ context.Context, _ string) (*model.Conversation, error) {
	if f.convByKey == nil {
		return nil, errors.New("record not found")
	}
	return f.convByKey, nil
}

func (f *fakeConvRepo) IsMember(_ context.Context, _ uint64, userID uint64) (bool, error) {
	for _, id := range f.members {
		if id == userID {
			return true, nil
		}
	}
	return f.isMember, nil
}

func (f *fakeConvRepo) GetMemberIDs(_ context.Context, _ uint64) ([]uint64, error) {
	return f.members, nil
}

func (f *fakeConvRepo) UpdateReadSeq(_ context.Context, _ uint64, _ uint64, seq uint64) error {
	f.readSeqCalls = append(f.readSeqCalls, seq)
	return nil
}

func (f *fakeConvRepo) IncrMaxSeq(_ context.Context, _ uint64, _ string, _ int8, _ uint64) (uint64, error) {
	f.nextSeq++
	return f.nextSeq, nil
}

func (f *fakeConvRepo) GetUserConversationMemList(_ context.Context, _ uint64) ([]*model.ConversationMember, error) {
	return f.memList, nil
}

func (f *fakeConvRepo) GetConvPeersReadSeq(_ context.Context, _ []uint64, _ []uint64) (map[uint64]uint64, error) {
	return f.peersReadSeq, nil
}

func (f *fakeConvRepo) GetTotalUnreadCount(_ context.Context, _ uint64) (int64, error) {
	return f.totalUnread, nil
}

func (f *fakeConvRepo) GetRecentlyActiveUserIDs(_ context.Context, _ time.Time) ([]uint64, error) {
	return f.members, nil
}

type fakeUserRepo struct {
	users map[uint64]*model.User
}

func (f *fakeUserRepo) GetUserById(_ context.Context, id uint64) (*model.User, error) {
	return f.users[id], nil
}

func (f *fakeUserRepo) GetUserByIds(_ context.Context, ids []uint64) ([]*model.User, error) {
	var res []*model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

type fakeGroupRepo struct {
	groups      map[uint64]*model.Group
	byConvCalls int
}

func (f *fakeGroupRepo) GetGroupById(_ context.Context, id uint64) (*model.Group, error) {
	return f.groups[id], nil
}

func (f *fakeGroupRepo) GetGroupsByIds(_ context.Context, ids []uint64) ([]*model.Group, error) {
	var res []*model.Group
	for _, id := range ids {
		if g, ok := f.groups[id]; ok {
			res = append(res, g)
		}
	}
	return res, nil
}

func (f *fakeGroupRepo) GetGroupByConversationID(_ context.Context, convID uint64) (*model.Group, error) {
	f.byConvCalls++
	for _, g := range f.groups {
		if g.ConversationID == convID {
			return g, nil
		}
	}
	return nil, nil
}

type fakeMessageRepo struct {
	mu        sync.Mutex
	saved     []*mongo.Message
	history   []*mongo.Message
	headMsg   *mongo.Message
	failFirst bool
}

func (f *fakeMessageRepo) SaveMessage(_ context.Context, msg *mongo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst {
		f.failFirst = false
		return errors.New("mongo down")
	}
	f.saved = append(f.saved, msg)
	return nil
}

func (f *fakeMessageRepo) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func (f *fakeMessageRepo) GetHistory(_ context.Context, _ uint64, _ uint64, _ int) ([]*mongo.Message, error) {
	return f.history, nil
}

func (f *fakeMessageRepo) SyncMessages(_ context.Context, _ uint64, _ uint64, _ int) ([]*mongo.Message, error) {
	return f.history, nil
}

func (f *fakeMessageRepo) GetMessageBySeq(_ context.Context, _ uint64, seq uint64) (*mongo.Message, error) {
	if f.headMsg != nil && f.headMsg.Seq == seq {
		return f.headMsg, nil
	}
	return nil, nil
}

type fakeESRepo struct {
}

func (f *fakeESRepo) IndexMessage(_ context.Context, _ *es.MessageES) error {
	return nil
}

func (f *fakeESRepo) SearchMessages(_ context.Context, _ []uint64, _ string, _, _ int) ([]*es.MessageES, error) {
	return nil, nil
}

type msgFixture struct {
	conv  *fakeConvRepo
	user  *fakeUserRepo
	group *fakeGroupRepo
	msg   *fakeMessageRepo
	pub   *fakePublisher
	svc   MessageService
}

func newMsgFixture(t *testing.T) *msgFixture {
	t.Helper()
	f := &msgFixture{
		conv:  &fakeConvRepo{},
		user:  &fakeUserRepo{users: map[uint64]*model.User{}},
		group: &fakeGroupRepo{groups: map[uint64]*model.Group{}},
		msg:   &fakeMessageRepo{},
		pub:   &fakePublisher{},
	}
	f.svc = NewMessageService(f.conv, f.user, f.group, f.msg, &fakeESRepo{}, f.pub)
	t.Cleanup(f.svc.Close)
	return f
}

func waitForCalls(t *testing.T, pub *fakePublisher, cond func([]publishCall) bool) []publishCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := pub.snapshot()
		if cond(calls) {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("publisher calls never matched, got %+v", pub.snapshot())
	return nil
}

func TestSendMessageAmbiguousTarget(t *testing.T) {
	f := newMsgFixture(t)

	_, err := f.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		TargetUserID: 2,
		GroupID:      3,
		Content:      "你好",
	})
	if !errors.Is(err, ErrTargetAmbiguous) {
		t.Fatalf("expected ErrTargetAmbiguous, got %v", err)
	}
}

func TestSendMessageNoTarget(t *testing.T) {
	f := newMsgFixture(t)

	_, err := f.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{Content: "你好"})
	if !errors.Is(err, ErrTargetUserInvalid) {
		t.Fatalf("expected ErrTargetUserInvalid, got %v", err)
	}
}

func TestSendMessageGroupNotFound(t *testing.T) {
	f := newMsgFixture(t)

	_, err := f.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{GroupID: 99, Content: "你好"})
	if !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestSendMessageGroupNotMember(t *testing.T) {
	f := newMsgFixture(t)
	f.group.groups[9] = &model.Group{ID: 9, ConversationID: 100}
	f.conv.conv = &model.Conversation{ID: 100, Type: consts.ConversationTypeGroup, GroupID: 9}
	f.conv.members = []uint64{2, 3}

	_, err := f.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{GroupID: 9, Content: "你好"})
	if !errors.Is(err, ErrGroupNotMember) {
		t.Fatalf("expected ErrGroupNotMember, got %v", err)
	}
}

func TestSendMessageDirectFanOut(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.conv = &model.Conversation{ID: 100, Type: consts.ConversationTypeDirect, MaxMsgSeq: 7}
	f.conv.nextSeq = 7
	f.conv.members = []uint64{1, 2}

	res, err := f.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		ConversationID: 100,
		MsgType:        1,
		Content:        "周六活动几点集合？",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if res.Seq != 8 || res.ConversationID != 100 {
		t.Fatalf("unexpected dto: %+v", res)
	}
	if f.msg.savedCount() != 1 {
		t.Fatalf("message not persisted: %+v", f.msg.saved)
	}

	// 仅对端收到 new_message，发送者自身不回推
	calls := waitForCalls(t, f.pub, func(calls []publishCall) bool {
		for _, c := range calls {
			if c.kind == "new_message" {
				return true
			}
		}
		return false
	})
	for _, c := range calls {
		if c.kind == "new_message" && c.channel != "stream:user:2" {
			t.Fatalf("unexpected fan-out channel: %+v", c)
		}
	}
}

func TestSendMessageMongoFailureFallsBackToRetry(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.conv = &model.Conversation{ID: 100, Type: consts.ConversationTypeDirect}
	f.conv.members = []uint64{1, 2}
	f.msg.failFirst = true

	// 落库失败仍返回已定序的消息，由后台队列补偿
	res, err := f.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		ConversationID: 100,
		Content:        "测试",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if res.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", res.Seq)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.msg.savedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("calibration worker never persisted the message")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMarkAsReadClampsSeq(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.conv = &model.Conversation{ID: 100, Type: consts.ConversationTypeDirect, MaxMsgSeq: 10}
	f.conv.members = []uint64{1, 2}

	if err := f.svc.MarkAsRead(context.Background(), 1, 100, 99); err != nil {
		t.Fatalf("mark as read: %v", err)
	}
	if len(f.conv.readSeqCalls) != 1 || f.conv.readSeqCalls[0] != 10 {
		t.Fatalf("expected read seq clamped to 10, got %+v", f.conv.readSeqCalls)
	}

	// 对端收到已读回执
	waitForCalls(t, f.pub, func(calls []publishCall) bool {
		for _, c := range calls {
			if c.kind == "message_read" && c.channel == "stream:user:2" {
				return true
			}
		}
		return false
	})
}

func TestMarkAsReadNotMember(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.conv = &model.Conversation{ID: 100}
	f.conv.members = []uint64{2, 3}

	err := f.svc.MarkAsRead(context.Background(), 1, 100, 5)
	if !errors.Is(err, UnauthorizedError) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
}

func TestGetChatHistoryNotMember(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.members = []uint64{2}

	_, err := f.svc.GetChatHistory(context.Background(), 1, 100, 0, 20)
	if !errors.Is(err, UnauthorizedError) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
}

func TestSendMessageResolvesGroupByConversation(t *testing.T) {
	f := newMsgFixture(t)
	f.group.groups[9] = &model.Group{ID: 9, ConversationID: 100, Name: "志愿者一组"}
	f.conv.conv = &model.Conversation{ID: 100, Type: consts.ConversationTypeGroup, GroupID: 9}
	f.conv.members = []uint64{1, 2, 3}

	// 直接按会话 ID 发群消息，群组信息从会话反查
	_, err := f.svc.SendMessage(context.Background(), 1, &dto.SendMessageReq{
		ConversationID: 100,
		Content:        "集合时间改了",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if f.group.byConvCalls != 1 {
		t.Fatalf("expected group resolved via conversation, calls=%d", f.group.byConvCalls)
	}

	waitForCalls(t, f.pub, func(calls []publishCall) bool {
		got := map[string]bool{}
		for _, c := range calls {
			if c.kind == "new_message" {
				got[c.channel] = true
			}
		}
		return got["stream:user:2"] && got["stream:user:3"]
	})
}

func TestGetChatHistoryHealsGapWithStoredMessage(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.conv = &model.Conversation{
		ID: 100, Type: consts.ConversationTypeDirect,
		MaxMsgSeq: 5, LastMsgContent: "冗余兜底",
	}
	f.conv.members = []uint64{1, 2}
	f.msg.headMsg = &mongo.Message{ConversationID: 100, SenderID: 2, Seq: 5, Content: "最新一条原文"}

	list, err := f.svc.GetChatHistory(context.Background(), 1, 100, 0, 20)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(list) != 1 || list[0].Seq != 5 || list[0].Content != "最新一条原文" {
		t.Fatalf("gap not healed from stored message: %+v", list)
	}
}

func TestGetChatHistoryHealsGapWithStub(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.conv = &model.Conversation{
		ID: 100, Type: consts.ConversationTypeDirect,
		MaxMsgSeq: 5, LastMsgContent: "冗余兜底", LastSenderID: 2,
	}
	f.conv.members = []uint64{1, 2}

	// MongoDB 还没追上定序进度，退回会话冗余字段
	list, err := f.svc.GetChatHistory(context.Background(), 1, 100, 0, 20)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(list) != 1 || list[0].Seq != 5 || list[0].Content != "冗余兜底" {
		t.Fatalf("gap not healed from stub: %+v", list)
	}
}

func TestGetConversationListFillsPeerReadSeq(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.memList = []*model.ConversationMember{
		{
			ConversationID: 100,
			UserID:         1,
			Conversation: model.Conversation{
				ID: 100, Type: consts.ConversationTypeDirect, PeerKey: "1_2", MaxMsgSeq: 8,
			},
		},
	}
	f.conv.peersReadSeq = map[uint64]uint64{100: 6}
	f.user.users[2] = &model.User{ID: 2, Nickname: "阿强"}

	list, err := f.svc.GetConversationList(context.Background(), 1)
	if err != nil {
		t.Fatalf("get conversation list: %v", err)
	}
	if len(list) != 1 || list[0].PeerID != 2 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[0].PeerReadSeq != 6 {
		t.Fatalf("expected peer read seq 6, got %d", list[0].PeerReadSeq)
	}
}

func TestGetTotalUnreadFallsBackToDB(t *testing.T) {
	f := newMsgFixture(t)
	f.conv.totalUnread = 12

	total, err := f.svc.GetTotalUnread(context.Background(), 1)
	if err != nil {
		t.Fatalf("get total unread: %v", err)
	}
	if total != 12 {
		t.Fatalf("expected 12, got %d", total)
	}
}
