package service

import (
	"context"
	"errors"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/pkg/jwt"
	"github.com/qs3c/studio_go_server/internal/repository"
)

type AuthService struct {
	userRepo *repository.UserRepository
	notifier EventNotifier
	cfg      *config.Config
}

func NewAuthService(userRepo *repository.UserRepository, notifier EventNotifier, cfg *config.Config) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Register 学员注册
func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	emailAddr := strings.ToLower(strings.TrimSpace(req.Email))

	// 检查邮箱是否存在
	exists, err := s.userRepo.ExistsByEmail(ctx, emailAddr)
	if err != nil {
		return nil, persistence(err)
	}
	if exists {
		return nil, ErrEmailExists
	}

	// 加密密码
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        emailAddr,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: string(hashedPassword),
		Role:         model.RoleStudent,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailExists
		}
		return nil, persistence(err)
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, welcomeEvent(user))
	}

	return &dto.RegisterResponse{
		UserID: user.ID,
	}, nil
}

// Login 用户登录
func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, notFoundOr(err, ErrInvalidCredentials)
	}

	// 验证密码
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 生成 Token
	token, err := jwt.GenerateToken(user.ID, string(user.Role), s.cfg.JWT.Secret, s.cfg.JWT.ExpireHours)
	if err != nil {
		return nil, err
	}

	return &dto.LoginResponse{
		Token: token,
		User:  BuildUserInfo(user),
	}, nil
}

// GetUserByID 获取用户
func (s *AuthService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound)
	}
	return user, nil
}

// EnsureOwner 启动时按配置创建馆主账号，已存在时跳过
func (s *AuthService) EnsureOwner(ctx context.Context) error {
	ownerCfg := s.cfg.Owner
	if ownerCfg.Email == "" || ownerCfg.Password == "" {
		return nil
	}
	emailAddr := strings.ToLower(strings.TrimSpace(ownerCfg.Email))

	exists, err := s.userRepo.ExistsByEmail(ctx, emailAddr)
	if err != nil {
		return persistence(err)
	}
	if exists {
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(ownerCfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	fullName := ownerCfg.FullName
	if fullName == "" {
		fullName = "Studio Owner"
	}
	owner := &model.User{
		Email:        emailAddr,
		FullName:     fullName,
		PasswordHash: string(hashedPassword),
		Role:         model.RoleOwner,
	}
	if err := s.userRepo.Create(ctx, owner); err != nil {
		return persistence(err)
	}

	log.Printf("Seeded owner account %s", emailAddr)
	return nil
}

// BuildUserInfo 用户信息（返回给前端）
func BuildUserInfo(user *model.User) *dto.UserInfo {
	return &dto.UserInfo{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(user.Role),
	}
}
