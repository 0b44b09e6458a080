package model

import (
	"time"
)

type Role string

const (
	RoleOwner   Role = "Owner"
	RoleStudent Role = "Student"
)

type User struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:100;uniqueIndex;not null" json:"email"`
	FullName     string    `gorm:"size:100;not null" json:"full_name"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         Role      `gorm:"size:20;not null;index" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// IsOwner 是否为馆主
func (u *User) IsOwner() bool {
	return u.Role == RoleOwner
}
