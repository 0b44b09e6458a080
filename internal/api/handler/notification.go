package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/studio_go_server/internal/api/middleware"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/pkg/response"
	"github.com/qs3c/studio_go_server/internal/service"
)

type NotificationHandler struct {
	notificationService *service.NotificationService
}

func NewNotificationHandler(notificationService *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// Logs 邮件日志
// GET /api/v1/notifications/logs
func (h *NotificationHandler) Logs(c *gin.Context) {
	page, pageSize := pagination(c)

	items, total, err := h.notificationService.ListLogs(c.Request.Context(), middleware.GetPrincipal(c), page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SuccessPage(c, total, page, pageSize, items)
}

// Stats 发送统计
// GET /api/v1/notifications/stats
func (h *NotificationHandler) Stats(c *gin.Context) {
	stats, err := h.notificationService.Stats(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, stats)
}

// Resend 重发某条邮件
// POST /api/v1/notifications/logs/:id/resend
func (h *NotificationHandler) Resend(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	item, err := h.notificationService.Resend(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, item)
}

// SendTest 发送测试邮件
// POST /api/v1/notifications/test
func (h *NotificationHandler) SendTest(c *gin.Context) {
	var req dto.TestEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.notificationService.SendTest(c.Request.Context(), middleware.GetPrincipal(c), req.ToEmail)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, item)
}
