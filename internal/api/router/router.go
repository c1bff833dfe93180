package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/video-transcoder/internal/api/handlers/admin"
	"github.com/aliskhannn/video-transcoder/internal/api/handlers/job"
	"github.com/aliskhannn/video-transcoder/internal/middleware"
)

func Setup(h *job.Handler, a *admin.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	api := r.Group("/api")
	api.Use(middleware.Identity())

	api.POST("/jobs", h.Submit)   // submitting a transcoding job
	api.GET("/jobs", h.List)      // listing the caller's jobs
	api.GET("/jobs/:id", h.Get)   // getting job status and outputs

	adm := api.Group("/admin")
	adm.Use(middleware.RequireAdmin())

	adm.POST("/cleanup", a.Cleanup) // running the retention sweeper now

	return r
}
