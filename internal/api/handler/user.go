package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/studio_go_server/internal/api/middleware"
	"github.com/qs3c/studio_go_server/internal/pkg/response"
	"github.com/qs3c/studio_go_server/internal/service"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// Students 学员名单
// GET /api/v1/users/students
func (h *UserHandler) Students(c *gin.Context) {
	items, err := h.userService.ListStudents(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, items)
}

// FindByEmail 按邮箱查找用户
// GET /api/v1/users?email=
func (h *UserHandler) FindByEmail(c *gin.Context) {
	emailAddr := c.Query("email")
	if emailAddr == "" {
		response.ParamError(c, "缺少 email 参数")
		return
	}

	user, err := h.userService.FindByEmail(c.Request.Context(), middleware.GetPrincipal(c), emailAddr)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, user)
}
