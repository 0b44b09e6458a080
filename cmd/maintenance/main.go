package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/database"
	"github.com/qs3c/studio_go_server/internal/pkg/cron"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/repository"
	"github.com/qs3c/studio_go_server/internal/service"
)

var (
	dryRun  = flag.Bool("dry-run", true, "Dry run mode, only count what would change")
	timeout = flag.Duration("timeout", 10*time.Minute, "Overall timeout")
)

func main() {
	flag.Parse()

	log.Println("Starting maintenance task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	typeRepo := repository.NewMembershipTypeRepository(db)
	passRepo := repository.NewClassPassRepository(db)

	// 一次性任务不经过队列，通知直接发送
	notificationService := service.NewNotificationService(repository.NewEmailLogRepository(db), email.NewService(&cfg.Email), nil, cfg)
	membershipService := service.NewMembershipService(db, repository.NewMembershipRepository(db), typeRepo, passRepo, userRepo, notificationService, cfg)
	bookingService := service.NewBookingService(db, classRepo, attendanceRepo, userRepo, membershipService, notificationService, nil, cfg)
	paymentService := service.NewPaymentService(db, repository.NewPaymentRepository(db), classRepo, typeRepo, userRepo,
		membershipService, bookingService, nil, notificationService, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := cron.NewService(membershipService, paymentService, notificationService, cfg.Cron).RunAll(ctx, *dryRun)
	if err != nil {
		log.Fatalf("Maintenance failed: %v", err)
	}

	log.Println(strings.Repeat("=", 60))
	log.Println("Maintenance Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Expired memberships: %d", report.ExpiredMemberships)
	log.Printf("Expired checkouts: %d", report.ExpiredCheckouts)
	log.Printf("Retried emails: %d", report.RetriedEmails)
	if *dryRun {
		log.Println("DRY RUN MODE - nothing was changed")
		log.Println("   Run with -dry-run=false to apply")
	}
	log.Println(strings.Repeat("=", 60))
}
