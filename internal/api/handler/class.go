package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/studio_go_server/internal/api/middleware"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/pkg/response"
	"github.com/qs3c/studio_go_server/internal/service"
)

type ClassHandler struct {
	catalogService *service.CatalogService
	bookingService *service.BookingService
}

func NewClassHandler(catalogService *service.CatalogService, bookingService *service.BookingService) *ClassHandler {
	return &ClassHandler{
		catalogService: catalogService,
		bookingService: bookingService,
	}
}

// Calendar 课程日历，start/end 为 RFC3339 时间
// GET /api/v1/classes/calendar
func (h *ClassHandler) Calendar(c *gin.Context) {
	start, ok := queryTime(c, "start")
	if !ok {
		return
	}
	end, ok := queryTime(c, "end")
	if !ok {
		return
	}

	items, err := h.catalogService.Calendar(c.Request.Context(), middleware.GetPrincipal(c), start, end)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, items)
}

// Get 课程详情
// GET /api/v1/classes/:id
func (h *ClassHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	item, err := h.catalogService.GetClass(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, item)
}

// Create 创建课程
// POST /api/v1/classes
func (h *ClassHandler) Create(c *gin.Context) {
	var req dto.ClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	class, err := h.catalogService.CreateClass(c.Request.Context(), middleware.GetPrincipal(c), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, class)
}

// Update 更新课程
// PUT /api/v1/classes/:id
func (h *ClassHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.ClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	class, err := h.catalogService.UpdateClass(c.Request.Context(), middleware.GetPrincipal(c), id, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, class)
}

// Delete 删除课程
// DELETE /api/v1/classes/:id
func (h *ClassHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.catalogService.DeleteClass(c.Request.Context(), middleware.GetPrincipal(c), id); err != nil {
		handleServiceError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// Book 预约课程
// POST /api/v1/classes/:id/book
func (h *ClassHandler) Book(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	attendance, err := h.bookingService.Book(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SuccessWithMessage(c, "预约成功", attendance)
}

// CheckIn 签到
// POST /api/v1/classes/:id/checkin
func (h *ClassHandler) CheckIn(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	attendance, err := h.bookingService.CheckIn(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SuccessWithMessage(c, "签到成功", attendance)
}

// Cancel 取消预约
// DELETE /api/v1/classes/:id/cancel
func (h *ClassHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.bookingService.Cancel(c.Request.Context(), middleware.GetPrincipal(c), id); err != nil {
		handleServiceError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已取消预约", nil)
}

// MyBookings 我的预约
// GET /api/v1/classes/my-bookings
func (h *ClassHandler) MyBookings(c *gin.Context) {
	items, err := h.bookingService.ListMyBookings(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, items)
}

// ClassBookings 某节课的预约名单
// GET /api/v1/classes/:id/bookings
func (h *ClassHandler) ClassBookings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	items, err := h.bookingService.ListClassBookings(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, items)
}

func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.ParamError(c, "时间格式错误: "+name)
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
