package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClassRequest 创建/更新课程请求
type ClassRequest struct {
	Name                 string          `json:"name" binding:"required,max=100"`
	Description          string          `json:"description" binding:"max=1000"`
	InstructorName       string          `json:"instructor_name" binding:"max=100"`
	StartTime            time.Time       `json:"start_time" binding:"required"`
	EndTime              time.Time       `json:"end_time" binding:"required"`
	MaxCapacity          int             `json:"max_capacity"`
	IsActive             *bool           `json:"is_active,omitempty"`
	DropInPrice          decimal.Decimal `json:"drop_in_price"`
	PackagePrice         decimal.Decimal `json:"package_price"`
	PackageClassCount    int             `json:"package_class_count"`
	AllowDropIn          bool            `json:"allow_drop_in"`
	AllowPackagePurchase bool            `json:"allow_package_purchase"`
	RequiresMembership   bool            `json:"requires_membership"`
}

// CalendarItem 日历中的一节课
type CalendarItem struct {
	ID                   int64           `json:"id"`
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	InstructorName       string          `json:"instructor_name"`
	StartTime            time.Time       `json:"start_time"`
	EndTime              time.Time       `json:"end_time"`
	MaxCapacity          int             `json:"max_capacity"`
	BookedCount          int64           `json:"booked_count"`
	AvailableSpots       int64           `json:"available_spots"`
	IsFull               bool            `json:"is_full"`
	IsBookedByMe         bool            `json:"is_booked_by_me"`
	DropInPrice          decimal.Decimal `json:"drop_in_price"`
	PackagePrice         decimal.Decimal `json:"package_price"`
	PackageClassCount    int             `json:"package_class_count"`
	AllowDropIn          bool            `json:"allow_drop_in"`
	AllowPackagePurchase bool            `json:"allow_package_purchase"`
	RequiresMembership   bool            `json:"requires_membership"`
}

// BookingItem 预约记录
type BookingItem struct {
	ID             int64      `json:"id"`
	ClassID        int64      `json:"class_id"`
	ClassName      string     `json:"class_name"`
	InstructorName string     `json:"instructor_name"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	UserID         int64      `json:"user_id"`
	UserName       string     `json:"user_name,omitempty"`
	UserEmail      string     `json:"user_email,omitempty"`
	BookedAt       time.Time  `json:"booked_at"`
	CheckedIn      bool       `json:"checked_in"`
	CheckedInAt    *time.Time `json:"checked_in_at,omitempty"`
	Source         string     `json:"source"`
}
