package routes

import (
	"sharedrive/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterFolderRoutes(rg *gin.RouterGroup, folderController *controllers.FolderController) {
	rg.GET("/drive", folderController.ListRoot) // GET /drive (own root items + shared with me)

	folders := rg.Group("/folders")
	{
		folders.POST("", folderController.CreateFolder)         // POST /folders
		folders.GET("/:id", folderController.GetFolder)         // GET /folders/:id
		folders.PATCH("/:id/move", folderController.MoveFolder) // PATCH /folders/:id/move
		folders.DELETE("/:id", folderController.DeleteFolder)   // DELETE /folders/:id (empty folders only)

		// Folder grants, owner only
		folders.GET("/:id/permissions", folderController.ListPermissions)
		folders.POST("/:id/permissions", folderController.GrantAccess)
		folders.DELETE("/:id/permissions/:userId", folderController.RevokeAccess)
	}
}
