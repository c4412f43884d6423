package main

import (
	"context"
	"time"

	"github.com/huangang/tracer/internal/cache"
	"github.com/huangang/tracer/internal/config"
	"github.com/huangang/tracer/internal/gateway"
	"github.com/huangang/tracer/internal/handlers"
	"github.com/huangang/tracer/internal/middleware"
	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/internal/services"
	"github.com/huangang/tracer/internal/storage"
	"github.com/huangang/tracer/internal/utils"
	"github.com/huangang/tracer/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	cacheSweepInterval = 5 * time.Minute
	storageInitTimeout = 10 * time.Second
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg         *config.Config
	db          *gorm.DB
	redis       *redis.Client
	taskQueue   services.TaskQueue
	worker      *services.Worker
	housekeeper *services.Housekeeper
	stop        context.CancelFunc

	authService        *services.AuthService
	entitlementService *services.EntitlementService
	accessService      *services.AccessService
	paymentService     *services.PaymentService

	notifyLimiter *middleware.RateLimiter
	redeemLimiter *middleware.RateLimiter

	healthHandler  *handlers.HealthHandler
	metricsHandler *handlers.MetricsHandler
	authHandler    *handlers.AuthHandler
	policyHandler  *handlers.PolicyHandler
	projectHandler *handlers.ProjectHandler
	inviteHandler  *handlers.InviteHandler
	paymentHandler *handlers.PaymentHandler
	memberHandler  *handlers.ProjectMemberHandler
	logHandler     *handlers.SystemLogHandler
}

// bootstrap initializes all application dependencies: database, gateway,
// cache, storage, queue and schedulers. Misconfiguration is fatal.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	db := models.GetDB()

	if err := models.AutoMigrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if _, err := models.EnsureFreePolicy(db); err != nil {
		logger.Fatalf("Failed to ensure free price policy: %v", err)
	}

	services.InitSystemLogger(db)

	gw, err := gateway.NewAlipay(&cfg.Alipay)
	if err != nil {
		logger.Fatalf("Failed to initialize payment gateway: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())

	var (
		c           cache.Cache
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, using in-memory cache")
		}
	}
	if redisClient != nil {
		c = cache.NewRedisCache(redisClient, "tracer")
	} else {
		mem := cache.NewMemoryCache()
		go mem.Run(ctx, cacheSweepInterval)
		c = mem
	}

	var store storage.ObjectStorage = storage.Noop{}
	if cfg.Storage.Enabled {
		sctx, cancel := context.WithTimeout(ctx, storageInitTimeout)
		s3Store, err := storage.NewS3(sctx, &cfg.Storage)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to initialize object storage: %v", err)
		}
		store = s3Store
	} else {
		logger.Warn().Msg("Object storage disabled, uploads are unavailable")
	}

	taskQueue := services.InitTaskQueue(cfg)

	svc := newAppServices(cfg, db, gw, c, store, taskQueue)
	svc.redis = redisClient
	svc.stop = stop

	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(svc.paymentService.ProcessReconcileTask)
	}

	// Start async worker if the queue went to Redis
	if taskQueue.IsAsync() {
		svc.worker = services.InitWorker(&cfg.Redis)
		if svc.worker != nil {
			svc.worker.SetProcessor(svc.paymentService.ProcessReconcileTask)
			if err := svc.worker.Start(); err != nil {
				logger.Fatalf("Failed to start payment worker: %v", err)
			}
		}
	}

	svc.housekeeper = services.NewHousekeeper(db, cfg.Housekeeping)
	if err := svc.housekeeper.StartScheduler(); err != nil {
		logger.Fatalf("Failed to start housekeeping: %v", err)
	}

	go svc.notifyLimiter.Run(ctx)
	go svc.redeemLimiter.Run(ctx)

	return svc
}

// newAppServices builds services and handlers on top of already
// initialized infrastructure.
func newAppServices(cfg *config.Config, db *gorm.DB, gw gateway.Gateway, c cache.Cache, store storage.ObjectStorage, queue services.TaskQueue) *appServices {
	authService := services.NewAuthService(db, &cfg.JWT)
	entitlementService := services.NewEntitlementService(db)
	paymentService := services.NewPaymentService(db, entitlementService, gw, c, queue, cfg.Alipay.Subject)

	return &appServices{
		cfg:       cfg,
		db:        db,
		taskQueue: queue,

		authService:        authService,
		entitlementService: entitlementService,
		accessService:      services.NewAccessService(db),
		paymentService:     paymentService,

		notifyLimiter: middleware.NewRateLimiter("payment-notify", 10, 20),
		redeemLimiter: middleware.NewRateLimiter("invite-redeem", 1, 5).WithKey(middleware.UserKey),

		healthHandler:  handlers.NewHealthHandler(db, queue, c),
		metricsHandler: handlers.NewMetricsHandler(db, queue),
		authHandler:    handlers.NewAuthHandler(authService),
		policyHandler:  handlers.NewPolicyHandler(entitlementService),
		projectHandler: handlers.NewProjectHandler(services.NewProjectService(db, store, cfg.Storage.BucketPrefix)),
		inviteHandler:  handlers.NewInviteHandler(services.NewInviteService(db, entitlementService)),
		paymentHandler: handlers.NewPaymentHandler(paymentService),
		memberHandler:  handlers.NewProjectMemberHandler(services.NewMemberService(db)),
		logHandler:     handlers.NewSystemLogHandler(services.NewSystemLogService(db)),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	if s.housekeeper != nil {
		s.housekeeper.StopScheduler()
	}
	if s.stop != nil {
		s.stop()
	}
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}
