package leave

import (
	"leavedesk/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RegisterRoutes wires the leave workflow under the authenticated group.
// The decision route carries no RBAC guard on purpose: its precondition
// order requires the service to check existence before capability.
func RegisterRoutes(
	rg *gin.RouterGroup,
	handler *Handler,
	rbacService middleware.RBACService,
	rdb *redis.Client,
) {
	leaves := rg.Group("/leaves")
	leaves.Use(middleware.AuthMiddleware())
	{
		leaves.POST("",
			middleware.Idempotency(rdb),
			middleware.RBACAuthorize(rbacService, "leave", "create"),
			handler.Submit,
		)
		leaves.GET("/pending",
			middleware.RBACAuthorize(rbacService, "leave", "read_all"),
			handler.ListPending,
		)
		leaves.GET("/:id",
			middleware.RBACAuthorize(rbacService, "leave", "read"),
			handler.GetByID,
		)
		leaves.POST("/:id/decision", handler.Decide)
	}

	employees := rg.Group("/employees")
	employees.Use(middleware.AuthMiddleware())
	{
		employees.GET("/:employee_id/leaves",
			middleware.RBACAuthorize(rbacService, "leave", "read"),
			handler.ListByEmployee,
		)
	}
}
