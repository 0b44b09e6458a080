package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckoutRequest 创建支付会话请求
type CheckoutRequest struct {
	PaymentType string `json:"payment_type" binding:"required,oneof=Membership DropIn Package"`
	TargetID    int64  `json:"target_id" binding:"required"`
}

// CheckoutResponse 支付会话
type CheckoutResponse struct {
	TransactionID int64           `json:"transaction_id"`
	Reference     string          `json:"reference"`
	SessionID     string          `json:"session_id"`
	RedirectURL   string          `json:"redirect_url"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
}

// TransactionItem 交易记录
type TransactionItem struct {
	ID            int64           `json:"id"`
	Reference     string          `json:"reference"`
	UserID        int64           `json:"user_id"`
	UserEmail     string          `json:"user_email,omitempty"`
	PaymentType   string          `json:"payment_type"`
	TargetID      int64           `json:"target_id"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	MembershipID  *int64          `json:"membership_id,omitempty"`
	ClassID       *int64          `json:"class_id,omitempty"`
	ReceiptURL    string          `json:"receipt_url,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}
