package service

import (
	"context"
	"strings"

	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/repository"
)

type UserService struct {
	userRepo *repository.UserRepository
}

func NewUserService(userRepo *repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// ListStudents 学员名单（仅馆主）
func (s *UserService) ListStudents(ctx context.Context, p *Principal) ([]*dto.UserInfo, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	users, err := s.userRepo.ListByRole(ctx, model.RoleStudent)
	if err != nil {
		return nil, persistence(err)
	}

	items := make([]*dto.UserInfo, 0, len(users))
	for _, user := range users {
		items = append(items, BuildUserInfo(user))
	}
	return items, nil
}

// FindByEmail 按邮箱查找用户（仅馆主），用于指派会员前确认学员
func (s *UserService) FindByEmail(ctx context.Context, p *Principal, emailAddr string) (*dto.UserInfo, error) {
	if err := requireOwner(p); err != nil {
		return nil, err
	}

	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if emailAddr == "" {
		return nil, invalidf("邮箱不能为空")
	}

	user, err := s.userRepo.GetByEmail(ctx, emailAddr)
	if err != nil {
		return nil, notFoundOr(err, ErrUserNotFound)
	}
	return BuildUserInfo(user), nil
}
