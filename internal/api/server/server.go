package server

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/video-transcoder/internal/config"
)

// New builds the HTTP server for the job API. Requests only submit and read
// job records, so the timeouts stay short even though jobs run for minutes.
func New(cfg config.Server, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
}
