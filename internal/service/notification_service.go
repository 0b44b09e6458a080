package service

import (
	"context"
	"log"
	"time"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/pkg/queue"
	"github.com/qs3c/studio_go_server/internal/repository"
)

const (
	deliveryTimeout = 30 * time.Second
	retryBatchSize  = 100
	errDeliveryOff  = "email delivery disabled"
)

// NotificationEvent 一条待发送的通知
type NotificationEvent struct {
	Kind      email.Kind
	UserID    *int64
	ToEmail   string
	Vars      email.Vars
	Attempt   int
	RetryOfID *int64
}

// EventNotifier 业务服务发出通知的入口，不返回错误
type EventNotifier interface {
	Notify(ctx context.Context, event *NotificationEvent)
}

// Notifier 实际的邮件发送者
type Notifier interface {
	Send(ctx context.Context, to string, kind email.Kind, vars email.Vars) (*email.Message, error)
}

type NotificationService struct {
	logRepo  *repository.EmailLogRepository
	notifier Notifier
	queue    *queue.Queue
	cfg      *config.Config
	now      func() time.Time
}

// NewNotificationService queue 为 nil 时在进程内异步发送
func NewNotificationService(logRepo *repository.EmailLogRepository, notifier Notifier, q *queue.Queue, cfg *config.Config) *NotificationService {
	return &NotificationService{
		logRepo:  logRepo,
		notifier: notifier,
		queue:    q,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Notify 投递通知，失败只记日志
func (s *NotificationService) Notify(ctx context.Context, event *NotificationEvent) {
	if event == nil || event.ToEmail == "" {
		return
	}
	if event.Attempt < 1 {
		event.Attempt = 1
	}

	if s.queue != nil {
		err := s.queue.Push(ctx, EventToMessage(event))
		if err == nil {
			return
		}
		log.Printf("Failed to enqueue %s notification for %s, delivering inline: %v", event.Kind, event.ToEmail, err)
	}

	go func() {
		deliverCtx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		s.Deliver(deliverCtx, event)
	}()
}

// Deliver 渲染并发送，每次尝试都写入一条邮件日志
func (s *NotificationService) Deliver(ctx context.Context, event *NotificationEvent) {
	s.deliver(ctx, event)
}

func (s *NotificationService) deliver(ctx context.Context, event *NotificationEvent) *model.EmailLog {
	vars := make(email.Vars, len(event.Vars)+1)
	for token, value := range event.Vars {
		vars[token] = value
	}
	if _, ok := vars[email.TokenGymName]; !ok {
		vars[email.TokenGymName] = s.cfg.Studio.Name
	}

	attempt := event.Attempt
	if attempt < 1 {
		attempt = 1
	}
	entry := &model.EmailLog{
		ToEmail:   event.ToEmail,
		Kind:      string(event.Kind),
		Vars:      varsToJSON(vars),
		UserID:    event.UserID,
		Attempt:   attempt,
		RetryOfID: event.RetryOfID,
	}

	enabled := s.cfg.Notification.Enabled && s.cfg.Notification.KindEnabled(string(event.Kind))
	if !enabled || s.notifier == nil {
		if msg, err := email.Render(event.Kind, vars); err == nil {
			entry.Subject, entry.Body = msg.Subject, msg.Body
		}
		entry.ErrorMessage = errDeliveryOff
	} else {
		msg, err := s.notifier.Send(ctx, event.ToEmail, event.Kind, vars)
		if msg != nil {
			entry.Subject, entry.Body = msg.Subject, msg.Body
		}
		if err != nil {
			log.Printf("Failed to send %s email to %s: %v", event.Kind, event.ToEmail, err)
			entry.ErrorMessage = truncate(err.Error(), 1000)
		} else {
			sentAt := s.now().UTC()
			entry.WasSent = true
			entry.SentAt = &sentAt
		}
	}

	if err := s.logRepo.Create(ctx, entry); err != nil {
		log.Printf("Failed to record email log for %s: %v", event.ToEmail, err)
	}
	return entry
}

// RetryFailed 重发失败且未超过次数上限的邮件，返回处理条数
func (s *NotificationService) RetryFailed(ctx context.Context, dryRun bool) (int, error) {
	maxAttempts := s.cfg.Notification.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	logs, err := s.logRepo.ListRetryable(ctx, maxAttempts, retryBatchSize, errDeliveryOff)
	if err != nil {
		return 0, persistence(err)
	}
	if dryRun {
		return len(logs), nil
	}

	for _, entry := range logs {
		s.deliver(ctx, retryEvent(entry))
	}
	return len(logs), nil
}

// Resend 馆主手动重发某条邮件，结果作为新一次尝试记录
func (s *NotificationService) Resend(ctx context.Context, p *Principal, logID int64) (*dto.EmailLogItem, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	original, err := s.logRepo.GetByID(ctx, logID)
	if err != nil {
		return nil, notFoundOr(err, ErrEmailLogNotFound)
	}
	return toEmailLogItem(s.deliver(ctx, retryEvent(original))), nil
}

// SendTest 发送测试邮件，验证发信配置
func (s *NotificationService) SendTest(ctx context.Context, p *Principal, to string) (*dto.EmailLogItem, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	userID := p.UserID
	entry := s.deliver(ctx, &NotificationEvent{
		Kind:    email.KindTest,
		UserID:  &userID,
		ToEmail: to,
		Vars:    email.Vars{email.TokenSentAt: s.now().UTC().Format(time.RFC1123)},
	})
	return toEmailLogItem(entry), nil
}

// ListLogs 邮件日志（仅馆主）
func (s *NotificationService) ListLogs(ctx context.Context, p *Principal, page, pageSize int) ([]*dto.EmailLogItem, int64, error) {
	if err := requireOwner(p); err != nil {
		return nil, 0, err
	}

	logs, total, err := s.logRepo.List(ctx, page, pageSize)
	if err != nil {
		return nil, 0, persistence(err)
	}

	items := make([]*dto.EmailLogItem, 0, len(logs))
	for _, entry := range logs {
		items = append(items, toEmailLogItem(entry))
	}
	return items, total, nil
}

// Stats 发送统计（仅馆主）
func (s *NotificationService) Stats(ctx context.Context, p *Principal) (*dto.EmailStats, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	total, sent, err := s.logRepo.Stats(ctx)
	if err != nil {
		return nil, persistence(err)
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	period, err := s.logRepo.PeriodStats(ctx, today)
	if err != nil {
		return nil, persistence(err)
	}

	return &dto.EmailStats{
		Total:         total,
		Sent:          sent,
		Failed:        total - sent,
		SentToday:     period.SentToday,
		SentThisWeek:  period.SentThisWeek,
		SentThisMonth: period.SentThisMonth,
		FailedToday:   period.FailedToday,
		SentByKind:    period.SentByKind,
	}, nil
}

func retryEvent(entry *model.EmailLog) *NotificationEvent {
	retryOf := entry.ID
	return &NotificationEvent{
		Kind:      email.Kind(entry.Kind),
		UserID:    entry.UserID,
		ToEmail:   entry.ToEmail,
		Vars:      jsonToVars(entry.Vars),
		Attempt:   entry.Attempt + 1,
		RetryOfID: &retryOf,
	}
}

func toEmailLogItem(entry *model.EmailLog) *dto.EmailLogItem {
	return &dto.EmailLogItem{
		ID:           entry.ID,
		ToEmail:      entry.ToEmail,
		Subject:      entry.Subject,
		Kind:         entry.Kind,
		UserID:       entry.UserID,
		WasSent:      entry.WasSent,
		SentAt:       entry.SentAt,
		ErrorMessage: entry.ErrorMessage,
		Attempt:      entry.Attempt,
		RetryOfID:    entry.RetryOfID,
		CreatedAt:    entry.CreatedAt,
	}
}

// EventToMessage 转为队列消息
func EventToMessage(event *NotificationEvent) *queue.NotificationMessage {
	vars := make(map[string]string, len(event.Vars))
	for token, value := range event.Vars {
		vars[string(token)] = value
	}
	return &queue.NotificationMessage{
		Kind:      string(event.Kind),
		UserID:    event.UserID,
		ToEmail:   event.ToEmail,
		Vars:      vars,
		Attempt:   event.Attempt,
		RetryOfID: event.RetryOfID,
	}
}

// EventFromMessage 从队列消息还原
func EventFromMessage(msg *queue.NotificationMessage) *NotificationEvent {
	vars := make(email.Vars, len(msg.Vars))
	for token, value := range msg.Vars {
		vars[email.Token(token)] = value
	}
	return &NotificationEvent{
		Kind:      email.Kind(msg.Kind),
		UserID:    msg.UserID,
		ToEmail:   msg.ToEmail,
		Vars:      vars,
		Attempt:   msg.Attempt,
		RetryOfID: msg.RetryOfID,
	}
}

func varsToJSON(vars email.Vars) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for token, value := range vars {
		out[string(token)] = value
	}
	return out
}

func jsonToVars(data map[string]interface{}) email.Vars {
	vars := make(email.Vars, len(data))
	for key, value := range data {
		if str, ok := value.(string); ok {
			vars[email.Token(key)] = str
		}
	}
	return vars
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
