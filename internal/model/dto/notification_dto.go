package dto

import "time"

// EmailLogItem 邮件日志
type EmailLogItem struct {
	ID           int64      `json:"id"`
	ToEmail      string     `json:"to_email"`
	Subject      string     `json:"subject"`
	Kind         string     `json:"kind"`
	UserID       *int64     `json:"user_id,omitempty"`
	WasSent      bool       `json:"was_sent"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempt      int        `json:"attempt"`
	RetryOfID    *int64     `json:"retry_of_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// EmailStats 邮件发送统计
type EmailStats struct {
	Total         int64            `json:"total"`
	Sent          int64            `json:"sent"`
	Failed        int64            `json:"failed"`
	SentToday     int64            `json:"sent_today"`
	SentThisWeek  int64            `json:"sent_this_week"`
	SentThisMonth int64            `json:"sent_this_month"`
	FailedToday   int64            `json:"failed_today"`
	SentByKind    map[string]int64 `json:"sent_by_kind"`
}

// TestEmailRequest 发送测试邮件
type TestEmailRequest struct {
	ToEmail string `json:"to_email" binding:"required,email"`
}
