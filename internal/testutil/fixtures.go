package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
)

var seq int64

func nextSeq() int64 {
	return atomic.AddInt64(&seq, 1)
}

// TestUser 创建测试用户，默认为学员
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	n := nextSeq()
	user := &model.User{
		Email:        fmt.Sprintf("test_%d@example.com", n),
		FullName:     fmt.Sprintf("Test User %d", n),
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuvwxyz123456", // bcrypt hash placeholder
		Role:         model.RoleStudent,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = email
	}
}

// WithRole 设置角色
func WithRole(role model.Role) func(*model.User) {
	return func(u *model.User) {
		u.Role = role
	}
}

// WithPasswordHash 设置密码哈希
func WithPasswordHash(hash string) func(*model.User) {
	return func(u *model.User) {
		u.PasswordHash = hash
	}
}

// TestClass 创建测试课程，默认明天开课、容量 10、无需会员
func TestClass(t *testing.T, db *gorm.DB, opts ...func(*model.ClassSession)) *model.ClassSession {
	t.Helper()

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	class := &model.ClassSession{
		Name:           fmt.Sprintf("Test Class %d", nextSeq()),
		Description:    "Test class description",
		InstructorName: "Alex",
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		MaxCapacity:    10,
		IsActive:       true,
		DropInPrice:    decimal.NewFromInt(20),
		PackagePrice:   decimal.NewFromInt(90),
	}

	for _, opt := range opts {
		opt(class)
	}

	if err := db.Create(class).Error; err != nil {
		t.Fatalf("Failed to create test class: %v", err)
	}

	return class
}

// WithCapacity 设置容量
func WithCapacity(capacity int) func(*model.ClassSession) {
	return func(c *model.ClassSession) {
		c.MaxCapacity = capacity
	}
}

// WithStart 设置开课时间，课程时长一小时
func WithStart(start time.Time) func(*model.ClassSession) {
	return func(c *model.ClassSession) {
		c.StartTime = start
		c.EndTime = start.Add(time.Hour)
	}
}

// WithInactive 设置课程为未开放
func WithInactive() func(*model.ClassSession) {
	return func(c *model.ClassSession) {
		c.IsActive = false
	}
}

// WithMembershipRequired 设置课程需要会员
func WithMembershipRequired() func(*model.ClassSession) {
	return func(c *model.ClassSession) {
		c.RequiresMembership = true
	}
}

// WithDropIn 允许单次付费
func WithDropIn(price decimal.Decimal) func(*model.ClassSession) {
	return func(c *model.ClassSession) {
		c.AllowDropIn = true
		c.DropInPrice = price
	}
}

// WithPackage 允许课包购买
func WithPackage(price decimal.Decimal, count int) func(*model.ClassSession) {
	return func(c *model.ClassSession) {
		c.AllowPackagePurchase = true
		c.PackagePrice = price
		c.PackageClassCount = count
	}
}

// TestMembershipType 创建测试会员类型，默认 30 天、不限次数、价格 50
func TestMembershipType(t *testing.T, db *gorm.DB, opts ...func(*model.MembershipType)) *model.MembershipType {
	t.Helper()

	days := 30
	mt := &model.MembershipType{
		Name:         fmt.Sprintf("Monthly %d", nextSeq()),
		Description:  "Test membership",
		Price:        decimal.NewFromInt(50),
		SetupFee:     decimal.Zero,
		DurationDays: &days,
		IsActive:     true,
	}

	for _, opt := range opts {
		opt(mt)
	}

	if err := db.Create(mt).Error; err != nil {
		t.Fatalf("Failed to create test membership type: %v", err)
	}

	return mt
}

// WithClassCount 设置限定次数
func WithClassCount(count int) func(*model.MembershipType) {
	return func(mt *model.MembershipType) {
		mt.ClassCount = &count
	}
}

// WithDuration 设置有效天数，nil 表示永久
func WithDuration(days *int) func(*model.MembershipType) {
	return func(mt *model.MembershipType) {
		mt.DurationDays = days
	}
}

// WithPrice 设置价格
func WithPrice(price, setupFee decimal.Decimal) func(*model.MembershipType) {
	return func(mt *model.MembershipType) {
		mt.Price = price
		mt.SetupFee = setupFee
	}
}

// WithTypeInactive 停用会员类型
func WithTypeInactive() func(*model.MembershipType) {
	return func(mt *model.MembershipType) {
		mt.IsActive = false
	}
}

// TestMembership 直接为用户创建一条有效会员
func TestMembership(t *testing.T, db *gorm.DB, user *model.User, mt *model.MembershipType, opts ...func(*model.Membership)) *model.Membership {
	t.Helper()

	now := time.Now().UTC()
	m := &model.Membership{
		UserID:           user.ID,
		MembershipTypeID: mt.ID,
		StartDate:        now,
		BalanceDue:       mt.Price,
		IsActive:         true,
	}
	if mt.ClassCount != nil {
		remaining := *mt.ClassCount
		m.RemainingClasses = &remaining
	}
	if mt.DurationDays != nil {
		end := now.AddDate(0, 0, *mt.DurationDays)
		m.EndDate = &end
	}

	for _, opt := range opts {
		opt(m)
	}

	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to create test membership: %v", err)
	}

	return m
}

// TestAttendance 直接创建一条已确认预约
func TestAttendance(t *testing.T, db *gorm.DB, user *model.User, class *model.ClassSession) *model.Attendance {
	t.Helper()

	attendance := &model.Attendance{
		UserID:      user.ID,
		ClassID:     class.ID,
		BookedAt:    time.Now().UTC(),
		IsConfirmed: true,
		Source:      model.SourceBooking,
	}
	if err := db.Create(attendance).Error; err != nil {
		t.Fatalf("Failed to create test attendance: %v", err)
	}

	return attendance
}
