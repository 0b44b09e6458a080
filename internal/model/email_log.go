package model

import (
	"time"

	"gorm.io/datatypes"
)

// EmailLog 每一次发送尝试的审计记录，写入后不再修改
type EmailLog struct {
	ID           int64             `gorm:"primaryKey" json:"id"`
	ToEmail      string            `gorm:"size:255;not null" json:"to_email"`
	Subject      string            `gorm:"size:255" json:"subject"`
	Body         string            `gorm:"type:text" json:"body"`
	Kind         string            `gorm:"size:50;not null;index" json:"kind"`
	Vars         datatypes.JSONMap `json:"vars"`
	UserID       *int64            `gorm:"index" json:"user_id,omitempty"`
	WasSent      bool              `gorm:"not null;index" json:"was_sent"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	ErrorMessage string            `gorm:"size:1000" json:"error_message,omitempty"`
	Attempt      int               `gorm:"not null" json:"attempt"`
	RetryOfID    *int64            `gorm:"index" json:"retry_of_id,omitempty"`
	CreatedAt    time.Time         `gorm:"index" json:"created_at"`
}

func (EmailLog) TableName() string {
	return "email_logs"
}
