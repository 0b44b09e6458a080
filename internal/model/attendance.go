package model

import (
	"time"
)

// AttendanceSource 出勤记录的来源
type AttendanceSource string

const (
	SourceBooking AttendanceSource = "Booking"
	SourceWalkIn  AttendanceSource = "WalkIn"
	SourceDropIn  AttendanceSource = "DropIn"
	SourcePackage AttendanceSource = "Package"
)

// Attendance 用户与课程的关系，只持久化已确认的记录，取消即删除
type Attendance struct {
	ID                   int64            `gorm:"primaryKey" json:"id"`
	UserID               int64            `gorm:"not null;uniqueIndex:idx_attendance_user_class" json:"user_id"`
	ClassID              int64            `gorm:"not null;uniqueIndex:idx_attendance_user_class;index" json:"class_id"`
	BookedAt             time.Time        `gorm:"not null" json:"booked_at"`
	IsConfirmed          bool             `gorm:"not null" json:"is_confirmed"`
	CheckedIn            bool             `gorm:"not null" json:"checked_in"`
	CheckedInAt          *time.Time       `json:"checked_in_at,omitempty"`
	Source               AttendanceSource `gorm:"size:20;not null" json:"source"`
	MembershipID         *int64           `json:"membership_id,omitempty"`
	ClassPassID          *int64           `json:"class_pass_id,omitempty"`
	PaymentTransactionID *int64           `json:"payment_transaction_id,omitempty"`

	User  *User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Class *ClassSession `gorm:"foreignKey:ClassID" json:"class,omitempty"`
}

func (Attendance) TableName() string {
	return "attendances"
}
