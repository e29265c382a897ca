package wire

import (
	"context"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/google/wire"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	"amplifi/internal/admin"
	"amplifi/internal/cache"
	chathandler "amplifi/internal/chat/handler"
	chatrepo "amplifi/internal/chat/repository"
	chatservice "amplifi/internal/chat/service"
	"amplifi/internal/common"
	"amplifi/internal/config"
	"amplifi/internal/dbmongo"
	"amplifi/internal/dbmysql"
	"amplifi/internal/events"
	"amplifi/internal/feed"
	"amplifi/internal/jobs"
	"amplifi/internal/live"
	"amplifi/internal/media"
	"amplifi/internal/notif"
	"amplifi/internal/payment"
	"amplifi/internal/realtime"
	"amplifi/internal/seed"
	"amplifi/internal/store"
	"amplifi/internal/user"
)

// Application is everything the serve command runs.
type Application struct {
	Config        *config.Config
	DB            *gorm.DB
	Hub           *realtime.Hub
	Tokens        *common.TokenManager
	Auth          *common.Authenticator
	Limiter       *cache.RateLimiter
	Routes        []Routes
	Media         *media.HTTPServer
	Notifications *notif.NotificationService
	Jobs          *jobs.Scheduler
	AdminGRPC     *grpc.Server
}

// Routes is implemented by every module handler mounted under /api/v1.
type Routes interface {
	Register(r *mux.Router, auth *common.Authenticator)
}

// --------- INFRASTRUCTURE ---------

func ProvideMySQL(ctx context.Context, cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := dbmysql.NewMySQL(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := dbmysql.Close(db); err != nil {
			common.Log.WithError(err).Warn("close MySQL")
		}
	}
	return db, cleanup, nil
}

func ProvideMongo(ctx context.Context, cfg *config.Config) (*dbmongo.MongoClient, func(), error) {
	mc, err := dbmongo.NewMongoConnection(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := mc.Close(context.Background()); err != nil {
			common.Log.WithError(err).Warn("close MongoDB")
		}
	}
	return mc, cleanup, nil
}

func ProvideRedis(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	rdb, err := cache.NewRedis(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

func ProvideTokens(cfg *config.Config) *common.TokenManager {
	return common.NewTokenManager(cfg.Auth.JWTSecret, cfg.TokenTTL())
}

// ProvideFirebaseApp returns nil when Firebase is disabled or misconfigured;
// push and Firebase sign-in are then switched off.
func ProvideFirebaseApp(ctx context.Context, cfg *config.Config) *firebase.App {
	if !cfg.Firebase.Enabled {
		common.Log.Info("Firebase disabled")
		return nil
	}
	if cfg.Firebase.CredentialsFilePath == "" {
		common.Log.Warn("Firebase credentials not provided")
		return nil
	}

	opt := option.WithCredentialsFile(cfg.Firebase.CredentialsFilePath)
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opt)
	if err != nil {
		common.Log.WithError(err).Error("Firebase initialization failed")
		return nil
	}
	return app
}

func ProvideFCMSender(ctx context.Context, app *firebase.App) notif.FCMSender {
	if app == nil {
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		common.Log.WithError(err).Error("Failed to create FCM client")
		return nil
	}
	return client
}

func ProvideIDTokenVerifier(ctx context.Context, app *firebase.App) user.IDTokenVerifier {
	if app == nil {
		return nil
	}
	client, err := app.Auth(ctx)
	if err != nil {
		common.Log.WithError(err).Error("Failed to create Firebase auth client")
		return nil
	}
	return client
}

func ProvideMediaStore(cfg *config.Config, mc *dbmongo.MongoClient) (media.Store, error) {
	if cfg.Media.Driver == media.DriverCloudinary {
		cs, err := media.NewCloudinaryStore(cfg.Media.CloudinaryURL, cfg.Media.Folder)
		if err != nil {
			return nil, err
		}
		return cs, nil
	}
	return media.NewGridFSStore(dbmongo.NewMediaStorage(mc), cfg.Media.BaseURL), nil
}

func ProvideMediaService(cfg *config.Config, st media.Store, refs media.RefRepository) *media.Service {
	return media.NewService(st, refs, cfg.MaxUploadBytes())
}

func ProvideFeedCache(cfg *config.Config, rdb *redis.Client) *cache.FeedCache {
	return cache.NewFeedCache(rdb, time.Duration(cfg.Redis.FeedTTL)*time.Second)
}

func ProvideViewerTracker(rdb *redis.Client) *cache.ViewerTracker {
	return cache.NewViewerTracker(rdb)
}

func ProvideTimeoutStore(rdb *redis.Client) *cache.TimeoutStore {
	return cache.NewTimeoutStore(rdb)
}

func ProvideRateLimiter(cfg *config.Config, rdb *redis.Client) *cache.RateLimiter {
	return cache.NewRateLimiter(rdb, cfg.Server.RateLimit)
}

// --------- SERVICES ---------

func ProvideNotificationService(
	cfg *config.Config,
	repo *dbmysql.NotificationRepository,
	devices *user.DeviceRepo,
	fcm notif.FCMSender,
	mailer common.EmailService,
	users user.UserRepository,
) (*notif.NotificationService, func()) {
	svc := notif.NewNotificationService(cfg, repo, devices, fcm, mailer, users)
	return svc, svc.Shutdown
}

func ProvideGateway(cfg *config.Config) payment.Gateway {
	return payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.RefreshURL, cfg.Stripe.ReturnURL)
}

func ProvideCharges(cfg *config.Config, gateway payment.Gateway) *payment.Charges {
	return payment.NewCharges(gateway, cfg.Stripe.Currency)
}

func ProvideFulfiller(cfg *config.Config) store.Fulfiller {
	return store.NewPODClient(cfg.Store)
}

// ProvideChatService also hooks typing and read frames into the hub.
func ProvideChatService(
	repo chatrepo.ChatRepository,
	users user.UserRepository,
	charges *payment.Charges,
	hub *realtime.Hub,
	notifier common.Notifier,
) chatservice.ChatService {
	svc := chatservice.NewChatService(repo, users, charges, hub, notifier)
	svc.RegisterFrames(hub)
	return svc
}

// ProvideLiveService also guards stream room subscriptions on the hub.
func ProvideLiveService(
	streams *live.StreamRepository,
	chat *dbmongo.LiveChatStore,
	viewers *cache.ViewerTracker,
	timeouts *cache.TimeoutStore,
	hub *realtime.Hub,
	users user.UserRepository,
	graph user.FollowRepository,
	notifier common.Notifier,
	events common.EventPublisher,
) *live.LiveService {
	svc := live.NewLiveService(streams, chat, viewers, timeouts, hub, users, graph, notifier, events)
	hub.GuardRooms(live.RoomPrefix, svc.AuthorizeRoom)
	return svc
}

func ProvidePaymentService(
	cfg *config.Config,
	repo payment.Repository,
	users user.UserRepository,
	gateway payment.Gateway,
	orders *store.StoreService,
	streams *live.LiveService,
	messages chatservice.ChatService,
	notifier common.Notifier,
	publisher common.EventPublisher,
) *payment.PaymentService {
	return payment.NewPaymentService(repo, users, gateway, orders, streams, messages, notifier, publisher, cfg.Stripe.Currency)
}

func ProvideAdminService(stats admin.StatsReader, posts *feed.FeedService) *admin.Service {
	return admin.NewService(stats, posts)
}

func ProvideAdminGRPC(cfg *config.Config, svc *admin.Service, tokens *common.TokenManager) *grpc.Server {
	if !cfg.GRPC.Enabled {
		return nil
	}
	return admin.NewGRPCServer(svc, tokens)
}

func ProvideScheduler(
	cfg *config.Config,
	notifications *notif.NotificationService,
	posts *feed.FeedService,
	streams *live.LiveService,
	orders *store.StoreService,
) *jobs.Scheduler {
	return jobs.NewScheduler(jobs.Maintenance(notifications, posts, streams, orders, cfg.Notification.ScheduledCheckInterval)...)
}

func ProvideRoutes(
	users *user.Handler,
	posts *feed.Handler,
	streams *live.Handler,
	chats *chathandler.ChatHandler,
	payments *payment.Handler,
	shop *store.Handler,
	notifications *notif.NotificationHandler,
	adm *admin.Handler,
) []Routes {
	return []Routes{users, posts, streams, chats, payments, shop, notifications, adm}
}

var infraSet = wire.NewSet(
	ProvideMySQL,
	ProvideMongo,
	ProvideRedis,
	ProvideTokens,
	common.NewAuthenticator,
	ProvideFirebaseApp,
	ProvideFCMSender,
	ProvideIDTokenVerifier,
	notif.NewEmailService,
	events.NewPublisher,
	realtime.NewHub,
	ProvideFeedCache,
	ProvideViewerTracker,
	ProvideTimeoutStore,
	ProvideRateLimiter,
	ProvideMediaStore,
	ProvideMediaService,
	media.NewHTTPServer,
)

var repositorySet = wire.NewSet(
	user.NewUserRepository,
	user.NewFollowRepository,
	user.NewDeviceRepository,
	wire.Bind(new(user.DeviceRepository), new(*user.DeviceRepo)),
	dbmysql.NewNotificationRepository,
	feed.NewFeedRepository,
	wire.Bind(new(feed.Posts), new(*feed.FeedRepository)),
	wire.Bind(new(feed.Reactions), new(*feed.FeedRepository)),
	wire.Bind(new(feed.Comments), new(*feed.FeedRepository)),
	wire.Bind(new(feed.Bookmarks), new(*feed.FeedRepository)),
	live.NewStreamRepository,
	dbmongo.NewLiveChatStore,
	chatrepo.NewChatRepository,
	payment.NewRepository,
	store.NewRepository,
	media.NewRefRepository,
	admin.NewStatsRepository,
)

var serviceSet = wire.NewSet(
	ProvideNotificationService,
	wire.Bind(new(common.Notifier), new(*notif.NotificationService)),
	user.NewUserService,
	wire.Bind(new(user.FeedInvalidator), new(*cache.FeedCache)),
	wire.Bind(new(user.AvatarUploader), new(*media.Service)),
	feed.NewFeedService,
	wire.Bind(new(feed.Authors), new(user.UserRepository)),
	wire.Bind(new(feed.FollowGraph), new(user.FollowRepository)),
	wire.Bind(new(feed.MediaUploader), new(*media.Service)),
	wire.Bind(new(feed.PageCache), new(*cache.FeedCache)),
	ProvideLiveService,
	ProvideGateway,
	ProvideCharges,
	ProvideChatService,
	ProvideFulfiller,
	store.NewStoreService,
	wire.Bind(new(store.OrderCharger), new(*payment.Charges)),
	ProvidePaymentService,
	ProvideAdminService,
	ProvideAdminGRPC,
	ProvideScheduler,
)

var handlerSet = wire.NewSet(
	user.NewHandler,
	feed.NewHandler,
	live.NewHandler,
	chathandler.NewChatHandler,
	payment.NewHandler,
	store.NewHandler,
	notif.NewNotificationHandler,
	admin.NewHandler,
	ProvideRoutes,
)

func ProvideSeeder(users user.UserRepository, posts *feed.FeedRepository, chats chatrepo.ChatRepository) *seed.Seeder {
	return seed.NewSeeder(users, posts, chats)
}
