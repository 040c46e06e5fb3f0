package routes

import (
	"sharedrive/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterFileRoutes(rg *gin.RouterGroup, fileController *controllers.FileController) {
	files := rg.Group("/files")
	{
		files.GET("/:id", fileController.GetFileMetadata) // GET /files/:id
		files.PATCH("/:id/move", fileController.MoveFile) // PATCH /files/:id/move
		files.DELETE("/:id", fileController.DeleteFile)   // DELETE /files/:id

		// File content
		files.GET("/:id/link", fileController.GetDownloadLink)  // signed URL for direct retrieval
		files.GET("/:id/download", fileController.DownloadFile) // streamed through the server
		files.GET("/:id/thumbnail", fileController.GetThumbnail)
	}

	rg.POST("/uploadfiles", fileController.UploadFiles) // POST /uploadfiles (files[] + optional folder_id)
}
