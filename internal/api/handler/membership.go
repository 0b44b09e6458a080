package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/studio_go_server/internal/api/middleware"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/pkg/response"
	"github.com/qs3c/studio_go_server/internal/service"
)

type MembershipHandler struct {
	catalogService    *service.CatalogService
	membershipService *service.MembershipService
}

func NewMembershipHandler(catalogService *service.CatalogService, membershipService *service.MembershipService) *MembershipHandler {
	return &MembershipHandler{
		catalogService:    catalogService,
		membershipService: membershipService,
	}
}

// ListTypes 会员类型列表，?active_only=false 仅对馆主生效
// GET /api/v1/memberships/types
func (h *MembershipHandler) ListTypes(c *gin.Context) {
	activeOnly, err := strconv.ParseBool(c.DefaultQuery("active_only", "true"))
	if err != nil {
		response.ParamError(c, "active_only 参数错误")
		return
	}

	types, err := h.catalogService.ListMembershipTypes(c.Request.Context(), middleware.GetPrincipal(c), activeOnly)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, types)
}

// CreateType 创建会员类型
// POST /api/v1/memberships/types
func (h *MembershipHandler) CreateType(c *gin.Context) {
	var req dto.MembershipTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	mt, err := h.catalogService.CreateMembershipType(c.Request.Context(), middleware.GetPrincipal(c), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, mt)
}

// UpdateType 更新会员类型
// PUT /api/v1/memberships/types/:id
func (h *MembershipHandler) UpdateType(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.MembershipTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	mt, err := h.catalogService.UpdateMembershipType(c.Request.Context(), middleware.GetPrincipal(c), id, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, mt)
}

// DeleteType 删除会员类型，已被引用时改为停用
// DELETE /api/v1/memberships/types/:id
func (h *MembershipHandler) DeleteType(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	deleted, err := h.catalogService.DeleteMembershipType(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if !deleted {
		response.SuccessWithMessage(c, "会员类型已被使用，已停用", gin.H{"deleted": false})
		return
	}
	response.SuccessWithMessage(c, "删除成功", gin.H{"deleted": true})
}

// Assign 馆主为学员分配会员
// POST /api/v1/memberships/assign
func (h *MembershipHandler) Assign(c *gin.Context) {
	var req dto.AssignMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	m, err := h.membershipService.AssignMembership(c.Request.Context(), middleware.GetPrincipal(c), req.UserID, req.MembershipTypeID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, service.ToMembershipItem(m))
}

// Apply 学员自助申请会员
// POST /api/v1/memberships/apply
func (h *MembershipHandler) Apply(c *gin.Context) {
	var req dto.ApplyMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	m, err := h.membershipService.ApplyMembership(c.Request.Context(), middleware.GetPrincipal(c), req.MembershipTypeID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, service.ToMembershipItem(m))
}

// List 全部会员（馆主）
// GET /api/v1/memberships
func (h *MembershipHandler) List(c *gin.Context) {
	items, err := h.membershipService.ListMemberships(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, items)
}

// Mine 我的会员与课包
// GET /api/v1/memberships/mine
func (h *MembershipHandler) Mine(c *gin.Context) {
	p := middleware.GetPrincipal(c)
	items, err := h.membershipService.ListMyMemberships(c.Request.Context(), p)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	passes, err := h.membershipService.ListMyClassPasses(c.Request.Context(), p)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"memberships": items, "class_passes": passes})
}

// Suspend 暂停会员
// PUT /api/v1/memberships/:id/suspend
func (h *MembershipHandler) Suspend(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	m, err := h.membershipService.SuspendMembership(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, service.ToMembershipItem(m))
}

// Reactivate 恢复会员
// PUT /api/v1/memberships/:id/reactivate
func (h *MembershipHandler) Reactivate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	m, err := h.membershipService.ReactivateMembership(c.Request.Context(), middleware.GetPrincipal(c), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, service.ToMembershipItem(m))
}
