package wire

import (
	"ileap/internal/api"
	"ileap/internal/api/config"
	"ileap/internal/api/handler"
	"ileap/internal/job"
	"ileap/internal/pkg/cron"
	"ileap/internal/pkg/es"
	"ileap/internal/pkg/kafka"
	mongorepo "ileap/internal/pkg/mongo"
	"ileap/internal/repository"
	"ileap/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router         *gin.Engine
	DB             *gorm.DB
	KafkaManager   *kafka.ConsumerManager
	CronMgr        *cron.Manager
	MessageService service.MessageService
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	userRepo := repository.NewUserRepo(db)
	groupRepo := repository.NewGroupRepo(db)
	convRepo := repository.NewConversationRepo(db)
	messageRepo := mongorepo.NewMessageRepo(mongoDB)
	notificationRepo := mongorepo.NewNotificationRepo(mongoDB)
	messageESRepo := es.NewMessageRepo()

	publisher := service.NewRedisFramePublisher()
	messageService := service.NewMessageService(convRepo, userRepo, groupRepo, messageRepo, messageESRepo, publisher)
	notificationService := service.NewNotificationService(notificationRepo, userRepo, publisher)

	handlers := &api.HandlersGroup{
		MessageHandler:      handler.NewMessageHandler(messageService),
		NotificationHandler: handler.NewNotificationHandler(notificationService),
		StreamHandler:       handler.NewStreamHandler(),
		WsHandler:           handler.NewWsHandler(),
	}

	router := api.SetupRouter(handlers)

	kafkaMgr, err := kafka.NewConsumerManager(cfg, notificationRepo, publisher)
	if err != nil {
		return nil, err
	}

	badgeCacheJob := job.NewBadgeCacheJob(messageService, convRepo)
	cronMgr := cron.NewCronManager(badgeCacheJob)

	return &ApplicationContainer{
		Router:         router,
		DB:             db,
		KafkaManager:   kafkaMgr,
		CronMgr:        cronMgr,
		MessageService: messageService,
	}, nil
}
