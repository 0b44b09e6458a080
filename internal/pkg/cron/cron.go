package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qs3c/studio_go_server/config"
)

const jobTimeout = 5 * time.Minute

// MembershipExpirer 停用过期会员
type MembershipExpirer interface {
	ExpireMemberships(ctx context.Context, dryRun bool) (int64, error)
}

// CheckoutExpirer 关闭超时未支付的交易
type CheckoutExpirer interface {
	ExpireStaleCheckouts(ctx context.Context, dryRun bool) (int, error)
}

// NotificationRetrier 重发失败的通知
type NotificationRetrier interface {
	RetryFailed(ctx context.Context, dryRun bool) (int, error)
}

// Report 一次维护任务的处理条数
type Report struct {
	ExpiredMemberships int64
	ExpiredCheckouts   int
	RetriedEmails      int
}

type Service struct {
	memberships   MembershipExpirer
	checkouts     CheckoutExpirer
	notifications NotificationRetrier
	cfg           config.CronConfig
	cron          *cron.Cron
}

func NewService(
	memberships MembershipExpirer,
	checkouts CheckoutExpirer,
	notifications NotificationRetrier,
	cfg config.CronConfig,
) *Service {
	return &Service{
		memberships:   memberships,
		checkouts:     checkouts,
		notifications: notifications,
		cfg:           cfg,
		cron:          cron.New(),
	}
}

// Start 按配置注册并启动定时任务，表达式为空的任务不调度
func (s *Service) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"expire memberships", s.cfg.ExpireMemberships, s.expireMemberships},
		{"expire checkouts", s.cfg.ExpireCheckouts, s.expireCheckouts},
		{"retry notifications", s.cfg.RetryNotifications, s.retryNotifications},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return fmt.Errorf("invalid cron spec for %s %q: %w", job.name, job.spec, err)
		}
	}

	s.cron.Start()
	log.Printf("Cron service started with %d jobs", len(s.cron.Entries()))
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	log.Println("Cron service stopped")
}

// RunAll 立即执行全部维护任务，dryRun 时只统计不修改
func (s *Service) RunAll(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{}
	var err error

	if s.memberships != nil {
		if report.ExpiredMemberships, err = s.memberships.ExpireMemberships(ctx, dryRun); err != nil {
			return report, fmt.Errorf("expire memberships: %w", err)
		}
	}
	if s.checkouts != nil {
		if report.ExpiredCheckouts, err = s.checkouts.ExpireStaleCheckouts(ctx, dryRun); err != nil {
			return report, fmt.Errorf("expire checkouts: %w", err)
		}
	}
	if s.notifications != nil {
		if report.RetriedEmails, err = s.notifications.RetryFailed(ctx, dryRun); err != nil {
			return report, fmt.Errorf("retry notifications: %w", err)
		}
	}
	return report, nil
}

func (s *Service) expireMemberships(ctx context.Context) {
	if s.memberships == nil {
		return
	}
	if _, err := s.memberships.ExpireMemberships(ctx, false); err != nil {
		log.Printf("Failed to expire memberships: %v", err)
	}
}

func (s *Service) expireCheckouts(ctx context.Context) {
	if s.checkouts == nil {
		return
	}
	if _, err := s.checkouts.ExpireStaleCheckouts(ctx, false); err != nil {
		log.Printf("Failed to expire stale checkouts: %v", err)
	}
}

func (s *Service) retryNotifications(ctx context.Context) {
	if s.notifications == nil {
		return
	}
	count, err := s.notifications.RetryFailed(ctx, false)
	if err != nil {
		log.Printf("Failed to retry notifications: %v", err)
		return
	}
	if count > 0 {
		log.Printf("Retried %d failed notifications", count)
	}
}
