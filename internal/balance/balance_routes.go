package balance

import (
	"leavedesk/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(rg *gin.RouterGroup, handler *Handler, rbacService middleware.RBACService) {
	balances := rg.Group("/balances")
	balances.Use(middleware.AuthMiddleware())
	{
		balances.POST("",
			middleware.RBACAuthorize(rbacService, "balance", "open"),
			handler.Open,
		)
		balances.GET("/:employee_id",
			middleware.RBACAuthorize(rbacService, "balance", "read"),
			handler.GetByEmployee,
		)
		balances.POST("/:employee_id/credit",
			middleware.RBACAuthorize(rbacService, "balance", "credit"),
			handler.Credit,
		)
	}
}
