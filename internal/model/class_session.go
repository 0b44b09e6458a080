package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClassSession 一节具体时间的课程
type ClassSession struct {
	ID                   int64           `gorm:"primaryKey" json:"id"`
	Name                 string          `gorm:"size:100;not null" json:"name"`
	Description          string          `gorm:"size:1000" json:"description"`
	InstructorName       string          `gorm:"size:100" json:"instructor_name"`
	StartTime            time.Time       `gorm:"not null;index" json:"start_time"`
	EndTime              time.Time       `gorm:"not null" json:"end_time"`
	MaxCapacity          int             `gorm:"not null" json:"max_capacity"`
	IsActive             bool            `gorm:"not null" json:"is_active"`
	DropInPrice          decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"drop_in_price"`
	PackagePrice         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"package_price"`
	PackageClassCount    int             `gorm:"not null" json:"package_class_count"`
	AllowDropIn          bool            `gorm:"not null" json:"allow_drop_in"`
	AllowPackagePurchase bool            `gorm:"not null" json:"allow_package_purchase"`
	RequiresMembership   bool            `gorm:"not null" json:"requires_membership"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`

	Attendances []Attendance `gorm:"foreignKey:ClassID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (ClassSession) TableName() string {
	return "classes"
}

// HasStarted 课程是否已开始
func (c *ClassSession) HasStarted(now time.Time) bool {
	return !c.StartTime.After(now)
}
