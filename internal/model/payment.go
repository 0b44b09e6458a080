package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentType string

const (
	PaymentTypeMembership PaymentType = "Membership"
	PaymentTypeDropIn     PaymentType = "DropIn"
	PaymentTypePackage    PaymentType = "Package"
)

// Valid 是否为已知的支付类型
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeMembership, PaymentTypeDropIn, PaymentTypePackage:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
	PaymentStatusRefunded  PaymentStatus = "Refunded"
)

type PaymentTransaction struct {
	ID               int64             `gorm:"primaryKey" json:"id"`
	Reference        string            `gorm:"size:36;not null;uniqueIndex" json:"reference"`
	UserID           int64             `gorm:"not null;index" json:"user_id"`
	GatewaySessionID *string           `gorm:"size:255;uniqueIndex" json:"gateway_session_id,omitempty"`
	PaymentIntentID  string            `gorm:"size:255" json:"payment_intent_id"`
	ChargeID         string            `gorm:"size:255" json:"charge_id"`
	Amount           decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"amount"`
	ProcessingFee    decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"processing_fee"`
	NetAmount        decimal.Decimal   `gorm:"type:decimal(10,2);not null" json:"net_amount"`
	Currency         string            `gorm:"size:3;not null" json:"currency"`
	PaymentType      PaymentType       `gorm:"size:20;not null" json:"payment_type"`
	TargetID         int64             `gorm:"not null" json:"target_id"`
	MembershipID     *int64            `json:"membership_id,omitempty"`
	ClassID          *int64            `json:"class_id,omitempty"`
	Status           PaymentStatus     `gorm:"size:20;not null;index" json:"status"`
	// 会话已完成但款项尚未到账（延迟支付方式）
	AwaitingSettlement bool `gorm:"not null;default:false" json:"awaiting_settlement"`
	Description      string            `gorm:"size:500" json:"description"`
	Metadata         datatypes.JSONMap `json:"metadata"`
	ReceiptURL       string            `gorm:"size:500" json:"receipt_url,omitempty"`
	FailureReason    string            `gorm:"size:500" json:"failure_reason,omitempty"`
	CreatedAt        time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`

	User       *User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Membership *Membership   `gorm:"foreignKey:MembershipID" json:"-"`
	Class      *ClassSession `gorm:"foreignKey:ClassID" json:"-"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
