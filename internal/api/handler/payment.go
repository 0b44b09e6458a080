package handler

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/studio_go_server/internal/api/middleware"
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/model/dto"
	"github.com/qs3c/studio_go_server/internal/pkg/gateway"
	"github.com/qs3c/studio_go_server/internal/pkg/response"
	"github.com/qs3c/studio_go_server/internal/service"
)

const maxWebhookBodyBytes = 64 << 10

// WebhookVerifier 校验网关回调签名
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*gateway.WebhookEvent, error)
}

type PaymentHandler struct {
	paymentService *service.PaymentService
	verifier       WebhookVerifier
}

func NewPaymentHandler(paymentService *service.PaymentService, verifier WebhookVerifier) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		verifier:       verifier,
	}
}

// Checkout 创建支付会话
// POST /api/v1/payments/checkout
func (h *PaymentHandler) Checkout(c *gin.Context) {
	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.paymentService.CreateCheckout(c.Request.Context(), middleware.GetPrincipal(c), model.PaymentType(req.PaymentType), req.TargetID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, resp)
}

// Webhook 网关回调，处理失败时返回 500 让网关重试
// POST /api/v1/payments/webhook
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		response.ParamError(c, "读取请求失败")
		return
	}
	if h.verifier == nil {
		response.ServerError(c, "支付未启用")
		return
	}

	event, err := h.verifier.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		log.Printf("Rejected webhook: %v", err)
		response.ParamError(c, "签名校验失败")
		return
	}

	if err := h.paymentService.OnWebhookEvent(c.Request.Context(), event); err != nil {
		log.Printf("Failed to process webhook %s (%s): %v", event.ID, event.Type, err)
		response.ServerError(c, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Transactions 全部交易（馆主）
// GET /api/v1/payments/transactions
func (h *PaymentHandler) Transactions(c *gin.Context) {
	page, pageSize := pagination(c)

	items, total, err := h.paymentService.ListTransactions(c.Request.Context(), middleware.GetPrincipal(c), page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SuccessPage(c, total, page, pageSize, items)
}

// MyTransactions 我的交易
// GET /api/v1/payments/my-transactions
func (h *PaymentHandler) MyTransactions(c *gin.Context) {
	items, err := h.paymentService.ListMyTransactions(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.Success(c, items)
}
