package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/studio_go_server/config"
	"github.com/qs3c/studio_go_server/internal/api/handler"
	"github.com/qs3c/studio_go_server/internal/api/middleware"
)

type Router struct {
	authHandler         *handler.AuthHandler
	classHandler        *handler.ClassHandler
	membershipHandler   *handler.MembershipHandler
	paymentHandler      *handler.PaymentHandler
	notificationHandler *handler.NotificationHandler
	userHandler         *handler.UserHandler
	websocketHandler    *handler.WebSocketHandler
	cfg                 *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	classHandler *handler.ClassHandler,
	membershipHandler *handler.MembershipHandler,
	paymentHandler *handler.PaymentHandler,
	notificationHandler *handler.NotificationHandler,
	userHandler *handler.UserHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:         authHandler,
		classHandler:        classHandler,
		membershipHandler:   membershipHandler,
		paymentHandler:      paymentHandler,
		notificationHandler: notificationHandler,
		userHandler:         userHandler,
		websocketHandler:    websocketHandler,
		cfg:                 cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket 不设请求超时
		api.GET("/ws", r.websocketHandler.Handle)

		timed := api.Group("")
		timed.Use(middleware.Timeout(r.cfg.Server.RequestTimeout()))

		// 公开接口 - 认证
		auth := timed.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
		}

		// 支付回调，由签名校验
		timed.POST("/payments/webhook", r.paymentHandler.Webhook)

		// 公开接口（可选认证）
		public := timed.Group("")
		public.Use(middleware.OptionalAuth(r.cfg.JWT.Secret))
		{
			public.GET("/classes/calendar", r.classHandler.Calendar)
			public.GET("/classes/:id", r.classHandler.Get)
			public.GET("/memberships/types", r.membershipHandler.ListTypes)
		}

		// 需要认证的接口
		authenticated := timed.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			classes := authenticated.Group("/classes")
			{
				classes.POST("", r.classHandler.Create)
				classes.PUT("/:id", r.classHandler.Update)
				classes.DELETE("/:id", r.classHandler.Delete)
				classes.POST("/:id/book", r.classHandler.Book)
				classes.POST("/:id/checkin", r.classHandler.CheckIn)
				classes.DELETE("/:id/cancel", r.classHandler.Cancel)
				classes.GET("/my-bookings", r.classHandler.MyBookings)
				classes.GET("/:id/bookings", r.classHandler.ClassBookings)
			}

			memberships := authenticated.Group("/memberships")
			{
				memberships.POST("/types", r.membershipHandler.CreateType)
				memberships.PUT("/types/:id", r.membershipHandler.UpdateType)
				memberships.DELETE("/types/:id", r.membershipHandler.DeleteType)
				memberships.POST("/assign", r.membershipHandler.Assign)
				memberships.POST("/apply", r.membershipHandler.Apply)
				memberships.GET("", r.membershipHandler.List)
				memberships.GET("/mine", r.membershipHandler.Mine)
				memberships.PUT("/:id/suspend", r.membershipHandler.Suspend)
				memberships.PUT("/:id/reactivate", r.membershipHandler.Reactivate)
			}

			payments := authenticated.Group("/payments")
			{
				payments.POST("/checkout", r.paymentHandler.Checkout)
				payments.GET("/transactions", r.paymentHandler.Transactions)
				payments.GET("/my-transactions", r.paymentHandler.MyTransactions)
			}

			notifications := authenticated.Group("/notifications")
			{
				notifications.GET("/logs", r.notificationHandler.Logs)
				notifications.GET("/stats", r.notificationHandler.Stats)
				notifications.POST("/logs/:id/resend", r.notificationHandler.Resend)
				notifications.POST("/test", r.notificationHandler.SendTest)
			}

			users := authenticated.Group("/users")
			{
				users.GET("", r.userHandler.FindByEmail)
				users.GET("/students", r.userHandler.Students)
			}
		}
	}

	return engine
}
