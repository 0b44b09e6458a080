package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/api"
	"github.com/qs3c/studio_go_server/internal/api/handler"
	"github.com/qs3c/studio_go_server/internal/database"
	"github.com/qs3c/studio_go_server/internal/pkg/cron"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/pkg/gateway"
	"github.com/qs3c/studio_go_server/internal/pkg/oss"
	"github.com/qs3c/studio_go_server/internal/pkg/pubsub"
	"github.com/qs3c/studio_go_server/internal/pkg/queue"
	"github.com/qs3c/studio_go_server/internal/pkg/ws"
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
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis（可选）
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()

	var notificationQueue *queue.Queue
	var availability service.AvailabilityPublisher
	if rdb != nil {
		log.Println("Redis connected")
		notificationQueue = queue.NewQueue(rdb, cfg.Queue.NotificationQueue)
		availability = pubsub.NewPublisher(rdb)

		// 多实例部署时通过 Redis 转发余位变化
		subscriber := pubsub.NewSubscriber(rdb)
		go func() {
			err := subscriber.Subscribe(ctx, func(msg *pubsub.AvailabilityMessage) {
				if err := wsHub.Broadcast(&ws.Message{Type: msg.Type, Data: msg}); err != nil {
					log.Printf("Failed to broadcast availability: %v", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Availability subscriber stopped: %v", err)
			}
		}()
	} else {
		log.Println("Redis not configured, notifications are delivered in-process")
		availability = ws.NewLocalPublisher(wsHub)
	}

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
	authService := service.NewAuthService(userRepo, notificationService, cfg)
	catalogService := service.NewCatalogService(db, classRepo, attendanceRepo, typeRepo)
	userService := service.NewUserService(userRepo)
	membershipService := service.NewMembershipService(db, membershipRepo, typeRepo, passRepo, userRepo, notificationService, cfg)
	bookingService := service.NewBookingService(db, classRepo, attendanceRepo, userRepo, membershipService, notificationService, availability, cfg)

	var paymentGateway service.PaymentGateway
	var verifier handler.WebhookVerifier
	if cfg.Payment.Enabled && cfg.Payment.StripeSecretKey != "" {
		stripeGateway := gateway.NewStripeGateway(cfg.Payment.StripeSecretKey, cfg.Payment.WebhookSecret)
		paymentGateway = stripeGateway
		verifier = stripeGateway
		log.Println("Stripe gateway enabled")
	}
	paymentService := service.NewPaymentService(db, paymentRepo, classRepo, typeRepo, userRepo,
		membershipService, bookingService, paymentGateway, notificationService, cfg)

	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			paymentService.WithReceiptArchiver(ossClient)
			log.Println("OSS receipt archive enabled")
		}
	}

	if err := authService.EnsureOwner(ctx); err != nil {
		log.Fatalf("Failed to ensure owner account: %v", err)
	}

	// 没有 Redis 时不会有独立 worker，维护任务在本进程内调度
	if rdb == nil {
		maintenance := cron.NewService(membershipService, paymentService, notificationService, cfg.Cron)
		if err := maintenance.Start(); err != nil {
			log.Fatalf("Failed to start cron service: %v", err)
		}
		defer maintenance.Stop()
		go worker.NewReuploader(paymentService, 0).Start(ctx)
	}

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService)
	classHandler := handler.NewClassHandler(catalogService, bookingService)
	membershipHandler := handler.NewMembershipHandler(catalogService, membershipService)
	paymentHandler := handler.NewPaymentHandler(paymentService, verifier)
	notificationHandler := handler.NewNotificationHandler(notificationService)
	userHandler := handler.NewUserHandler(userService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins)

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		classHandler,
		membershipHandler,
		paymentHandler,
		notificationHandler,
		userHandler,
		websocketHandler,
		cfg,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server shutdown complete")
}
