package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type MembershipType struct {
	ID           int64           `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"size:100;not null" json:"name"`
	Description  string          `gorm:"size:1000" json:"description"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	SetupFee     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"setup_fee"`
	ClassCount   *int            `json:"class_count"`   // nil 表示不限次数
	DurationDays *int            `json:"duration_days"` // nil 表示永久有效
	IsActive     bool            `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (MembershipType) TableName() string {
	return "membership_types"
}

// IsUnlimited 是否不限次数
func (t *MembershipType) IsUnlimited() bool {
	return t.ClassCount == nil
}

type Membership struct {
	ID                   int64           `gorm:"primaryKey" json:"id"`
	UserID               int64           `gorm:"not null;index:idx_membership_user_type" json:"user_id"`
	MembershipTypeID     int64           `gorm:"not null;index:idx_membership_user_type" json:"membership_type_id"`
	StartDate            time.Time       `gorm:"not null" json:"start_date"`
	EndDate              *time.Time      `gorm:"index" json:"end_date"`
	BalanceDue           decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"balance_due"`
	RemainingClasses     *int            `json:"remaining_classes"`
	IsActive             bool            `gorm:"not null" json:"is_active"`
	PurchaseDate         *time.Time      `json:"purchase_date,omitempty"`
	PaymentTransactionID *int64          `gorm:"uniqueIndex" json:"payment_transaction_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`

	User           *User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	MembershipType *MembershipType `gorm:"foreignKey:MembershipTypeID" json:"membership_type,omitempty"`
}

func (Membership) TableName() string {
	return "memberships"
}

// IsExpired 是否已过期
func (m *Membership) IsExpired(now time.Time) bool {
	return m.EndDate != nil && !m.EndDate.After(now)
}

// IsUnlimited 是否不限次数
func (m *Membership) IsUnlimited() bool {
	return m.RemainingClasses == nil
}

// ClassPass 课包购买得到的通用课次
type ClassPass struct {
	ID                   int64     `gorm:"primaryKey" json:"id"`
	UserID               int64     `gorm:"not null;index" json:"user_id"`
	SourceClassID        int64     `gorm:"not null" json:"source_class_id"`
	TotalClasses         int       `gorm:"not null" json:"total_classes"`
	RemainingClasses     int       `gorm:"not null" json:"remaining_classes"`
	PaymentTransactionID int64     `gorm:"not null;uniqueIndex" json:"payment_transaction_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (ClassPass) TableName() string {
	return "class_passes"
}
