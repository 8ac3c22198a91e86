package drivesim

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unzipq/unzipq/internal/middleware"
)

// NewRouter builds the gin engine: the drive API under /1/clouddrive guarded
// by the account cookie, the operator surface under /sim, and /metrics.
func NewRouter(store *Store, cookie string, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.RequestLogger(logger),
		middleware.TracingMiddleware("drivesim"),
	)

	drive := engine.Group("/1/clouddrive", middleware.CookieAuth(cookie))
	{
		drive.GET("/file/sort", NewSortController(store).Handle)
		drive.POST("/file/move", NewMoveController(store).Handle)
		drive.POST("/file/delete", NewDeleteController(store).Handle)
		drive.POST("/file/rename", NewRenameController(store).Handle)
		drive.POST("/archive/unarchive", NewUnarchiveController(store).Handle)
		drive.GET("/task", NewTaskController(store).Handle)
	}

	sim := engine.Group("/sim")
	{
		admin := NewSimAdminController(store)
		sim.POST("/fail", admin.HandleFail)
		sim.POST("/reset", admin.HandleReset)
	}

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return engine
}
