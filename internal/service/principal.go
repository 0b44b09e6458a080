package service

import (
	"github.com/qs3c/studio_go_server/internal/model"
)

// Principal 当前请求的调用者
type Principal struct {
	UserID int64
	Role   model.Role
}

func (p *Principal) IsOwner() bool {
	return p != nil && p.Role == model.RoleOwner
}

func requireAuthenticated(p *Principal) error {
	if p == nil || p.UserID == 0 {
		return ErrUnauthorized
	}
	return nil
}

func requireOwner(p *Principal) error {
	if err := requireAuthenticated(p); err != nil {
		return err
	}
	if !p.IsOwner() {
		return ErrForbidden
	}
	return nil
}
