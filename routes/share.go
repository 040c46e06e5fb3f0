package routes

import (
	"sharedrive/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterShareRoutes registers the authenticated public-link endpoints.
func RegisterShareRoutes(rg *gin.RouterGroup, shareController *controllers.ShareController) {
	rg.POST("/files/:id/share", shareController.PublishFile) // create or rotate the public link
	rg.DELETE("/files/:id/share", shareController.RevokeFile)
}

// RegisterPublicRoutes registers anonymous share access. Every route is rate
// limited per client IP.
func RegisterPublicRoutes(api *gin.RouterGroup, limit gin.HandlerFunc, shareController *controllers.ShareController) {
	public := api.Group("/public")
	public.Use(limit)
	{
		public.GET("/:token", shareController.GetPublicShare)
		public.GET("/:token/download", shareController.DownloadPublic)
		public.GET("/:token/thumbnail", shareController.PublicThumbnail)
	}
}
