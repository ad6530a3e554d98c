// Package httpapi exposes the daemon's control operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mpdoverlay/internal/daemon"
	"mpdoverlay/internal/report"
)

// Commander is implemented by *daemon.Daemon.
type Commander interface {
	Status(ctx context.Context) (daemon.Status, error)
	Reconnect(ctx context.Context) (daemon.Status, error)
	Sources(ctx context.Context) ([]string, error)
	Preview(ctx context.Context) (string, error)
}

// API handles HTTP control endpoints.
type API struct {
	cmd Commander
}

func NewAPI(cmd Commander) *API {
	return &API{cmd: cmd}
}

// ReconnectResponse is returned by POST /reconnect.
type ReconnectResponse struct {
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
	State  daemon.Status `json:"state"`
}

// SourcesResponse is returned by GET /sources.
type SourcesResponse struct {
	Sources []string `json:"sources"`
}

// PreviewResponse is returned by GET /preview.
type PreviewResponse struct {
	Text string `json:"text"`
}

// Status handles GET /status.
func (a *API) Status(c *gin.Context) {
	st, err := a.cmd.Status(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Reconnect handles POST /reconnect.
func (a *API) Reconnect(c *gin.Context) {
	st, err := a.cmd.Reconnect(c.Request.Context())
	if errors.Is(err, daemon.ErrStopped) {
		abort(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, ReconnectResponse{Status: "failed", Error: err.Error(), State: st})
		return
	}
	c.JSON(http.StatusOK, ReconnectResponse{Status: "ok", State: st})
}

// Sources handles GET /sources.
func (a *API) Sources(c *gin.Context) {
	names, err := a.cmd.Sources(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, SourcesResponse{Sources: names})
}

// Preview handles GET /preview.
func (a *API) Preview(c *gin.Context) {
	text, err := a.cmd.Preview(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, PreviewResponse{Text: text})
}

func abort(c *gin.Context, err error) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
}

// SetupRouter creates and configures the Gin router.
func SetupRouter(api *API) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", api.Status)
	r.POST("/reconnect", api.Reconnect)
	r.GET("/sources", api.Sources)
	r.GET("/preview", api.Preview)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, cmd Commander, rep *report.Reporter) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           SetupRouter(NewAPI(cmd)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	rep.Infof("HTTP control API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
} // func Serve(ctx context.Context, addr string, cmd Commander, rep *report.Reporter) error
