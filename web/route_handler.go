package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/types"
)

const shutdownTimeout = 10 * time.Second

// JobService is what the submission API needs from the core.
type JobService interface {
	Submit(ctx context.Context, payload []byte) (types.JobID, error)
	Get(ctx context.Context, id types.JobID) (*types.Job, error)
}

type HttpRouteHandler struct {
	jobs   JobService
	logger *slog.Logger
	Port   uint
}

func NewRouteHandler(jobs JobService, logger *slog.Logger, port uint) *HttpRouteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HttpRouteHandler{
		jobs:   jobs,
		logger: logger,
		Port:   port,
	}
}

type createJobRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// Router builds the gin engine serving the submission API.
func (handler *HttpRouteHandler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), handler.requestLogger())

	router.POST("/jobs", handler.createJob)
	router.GET("/jobs/:id", handler.getJob)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// Serve listens on Port until ctx ends, then shuts the server down gracefully.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", handler.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		printBanner(addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (handler *HttpRouteHandler) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
		return
	}

	id, err := handler.jobs.Submit(c.Request.Context(), req.Payload)
	if err != nil && id == "" {
		handler.writeError(c, err)
		return
	}
	if err != nil {
		// stored but not enqueued; the reclaimer's orphan rescue delivers it
		handler.logger.Warn("job accepted without enqueue",
			slog.String("job_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id.String()})
}

func (handler *HttpRouteHandler) getJob(c *gin.Context) {
	job, err := handler.jobs.Get(c.Request.Context(), types.JobID(c.Param("id")))
	if err != nil {
		handler.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newJobResponse(job))
}

func (handler *HttpRouteHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, custom_errors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, custom_errors.ErrStorage):
		handler.logger.Error("storage unavailable", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		handler.logger.Error("request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (handler *HttpRouteHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		handler.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
