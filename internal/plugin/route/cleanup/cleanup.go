package cleanup

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/flight"
	"github.com/chirino/notification-cache/internal/service"
	"github.com/gin-gonic/gin"
)

// Orchestrator is the part of service.Orchestrator the routes drive.
type Orchestrator interface {
	Trigger(ctx context.Context, opts service.CleanupOptions) *flight.Flight
	CleanupState() flight.Snapshot
	CompanionState() flight.Snapshot
	LastRun() (service.RunReport, bool)
}

type triggerRequest struct {
	Force       bool `json:"force"`
	SkipNetwork bool `json:"skipNetwork"`
	Wait        bool `json:"wait"`
}

// MountRoutes mounts the cleanup trigger API. options builds the base
// options (key rotation callback) that every request starts from.
func MountRoutes(r gin.IRouter, orch Orchestrator, options func() service.CleanupOptions) {
	g := r.Group("/v1/cleanup")
	g.POST("", func(c *gin.Context) {
		triggerCleanup(c, orch, options)
	})
	g.GET("", func(c *gin.Context) {
		cleanupStatus(c, orch)
	})
}

func triggerCleanup(c *gin.Context, orch Orchestrator, options func() service.CleanupOptions) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var opts service.CleanupOptions
	if options != nil {
		opts = options()
	}
	opts.Force = req.Force
	opts.SkipNetwork = req.SkipNetwork

	f := orch.Trigger(c.Request.Context(), opts)
	if f == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if req.Wait {
		if err := f.Wait(c.Request.Context()); err != nil {
			log.Debug("Cleanup trigger: client stopped waiting", "err", err)
			c.JSON(http.StatusAccepted, gin.H{"status": "running", "startedAt": f.StartedAt()})
			return
		}
		report, _ := orch.LastRun()
		c.JSON(http.StatusOK, report)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "running", "startedAt": f.StartedAt()})
}

func cleanupStatus(c *gin.Context, orch Orchestrator) {
	resp := gin.H{
		"cleanup":   snapshotJSON(orch.CleanupState()),
		"companion": snapshotJSON(orch.CompanionState()),
	}
	if report, ok := orch.LastRun(); ok {
		resp["lastRun"] = report
	}
	c.JSON(http.StatusOK, resp)
}

func snapshotJSON(s flight.Snapshot) gin.H {
	out := gin.H{"inFlight": s.InFlight}
	if !s.LastStartedAt.IsZero() {
		out["lastStartedAt"] = s.LastStartedAt
	}
	if !s.LastFinishedAt.IsZero() {
		out["lastFinishedAt"] = s.LastFinishedAt
	}
	return out
}
