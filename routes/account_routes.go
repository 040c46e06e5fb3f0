package routes

import (
	"sharedrive/controllers"
	"sharedrive/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterAccountRoutes(rg *gin.RouterGroup, accountController *controllers.AccountController) {
	rg.GET("/me", accountController.GetProfile)
	rg.GET("/quota", accountController.GetQuota)
	rg.POST("/coupons/redeem", accountController.RedeemCoupon)

	admin := rg.Group("/admin")
	admin.Use(middleware.RequireRole("admin"))
	{
		admin.POST("/coupons", accountController.CreateCoupon)
	}
}
