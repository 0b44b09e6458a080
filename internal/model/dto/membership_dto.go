package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// MembershipTypeRequest 创建/更新会员类型请求
type MembershipTypeRequest struct {
	Name         string          `json:"name" binding:"required,max=100"`
	Description  string          `json:"description" binding:"max=1000"`
	Price        decimal.Decimal `json:"price"`
	SetupFee     decimal.Decimal `json:"setup_fee"`
	ClassCount   *int            `json:"class_count,omitempty"`
	DurationDays *int            `json:"duration_days,omitempty"`
	IsActive     *bool           `json:"is_active,omitempty"`
}

// AssignMembershipRequest 分配会员请求
type AssignMembershipRequest struct {
	UserID           int64 `json:"user_id" binding:"required"`
	MembershipTypeID int64 `json:"membership_type_id" binding:"required"`
}

// ApplyMembershipRequest 学员自助申请会员请求
type ApplyMembershipRequest struct {
	MembershipTypeID int64 `json:"membership_type_id" binding:"required"`
}

// MembershipItem 会员信息
type MembershipItem struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"user_id"`
	UserName           string          `json:"user_name,omitempty"`
	UserEmail          string          `json:"user_email,omitempty"`
	MembershipTypeID   int64           `json:"membership_type_id"`
	MembershipTypeName string          `json:"membership_type_name"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            *time.Time      `json:"end_date"`
	BalanceDue         decimal.Decimal `json:"balance_due"`
	RemainingClasses   *int            `json:"remaining_classes"`
	IsActive           bool            `json:"is_active"`
	PurchaseDate       *time.Time      `json:"purchase_date,omitempty"`
}
