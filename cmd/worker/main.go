package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/database"
	"github.com/qs3c/studio_go_server/internal/pkg/cron"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/pkg/oss"
	"github.com/qs3c/studio_go_server/internal/pkg/pubsub"
	"github.com/qs3c/studio_go_server/internal/pkg/queue"
	"github.com/qs3c/studio_go_server/internal/repository"
	"github.com/qs3c/studio_go_server/internal/service"
	"github.com/qs3c/studio_go_server/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// worker 依赖 Redis 队列
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	if rdb == nil {
		log.Fatal("Redis is not configured, the worker has nothing to consume")
	}
	log.Println("Redis connected")

	notificationQueue := queue.NewQueue(rdb, cfg.Queue.NotificationQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	typeRepo := repository.NewMembershipTypeRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	passRepo := repository.NewClassPassRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	emailLogRepo := repository.NewEmailLogRepository(db)

	// 初始化 Service
	notificationService := service.NewNotificationService(emailLogRepo, email.NewService(&cfg.Email), notificationQueue, cfg)
	membershipService := service.NewMembershipService(db, membershipRepo, typeRepo, passRepo, userRepo, notificationService, cfg)
	bookingService := service.NewBookingService(db, classRepo, attendanceRepo, userRepo, membershipService, notificationService, publisher, cfg)
	paymentService := service.NewPaymentService(db, paymentRepo, classRepo, typeRepo, userRepo,
		membershipService, bookingService, nil, notificationService, cfg)

	// 初始化 OSS（可选）
	var reuploader *worker.Reuploader
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			paymentService.WithReceiptArchiver(ossClient)
			reuploader = worker.NewReuploader(paymentService, 0)
			log.Println("OSS client initialized")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	maintenance := cron.NewService(membershipService, paymentService, notificationService, cfg.Cron)
	if err := maintenance.Start(); err != nil {
		log.Fatalf("Failed to start cron service: %v", err)
	}
	defer maintenance.Stop()

	if reuploader != nil {
		go reuploader.Start(ctx)
	}

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)
	worker.NewProcessor(notificationQueue, notificationService, cfg.Queue.MaxWorkers).Run(ctx)
	log.Println("Worker shutdown complete")
}
