package handler

import (
	"errors"
	"log"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/studio_go_server/internal/pkg/response"
	"github.com/qs3c/studio_go_server/internal/service"
)

// handleServiceError 按错误分类写出响应
func handleServiceError(c *gin.Context, err error) {
	message := ""
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}

	switch service.KindOf(err) {
	case service.KindNotFound:
		response.NotFoundError(c, message)
	case service.KindInvalidState:
		response.ParamError(c, message)
	case service.KindConflict:
		response.ConflictError(c, message)
	case service.KindCapacityExceeded, service.KindEntitlementExhausted:
		response.UnavailableError(c, message)
	case service.KindUnauthorized:
		response.AuthError(c, message)
	case service.KindForbidden:
		response.PermissionError(c, message)
	case service.KindGateway:
		log.Printf("Payment gateway error on %s %s: %v", c.Request.Method, c.FullPath(), err)
		response.GatewayError(c, "")
	default:
		log.Printf("Request %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		response.ServerError(c, "")
	}
}

// pathID 解析路径中的数字 ID，失败时已写出响应
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "无效的ID")
		return 0, false
	}
	return id, true
}

// pagination 分页参数，page_size 上限 100
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	return page, pageSize
}
