package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "cotbridge",
		"description": "Austin fire and traffic incident feeds bridged to TAK as CoT",
		"endpoints": gin.H{
			"health":    "/healthz",
			"readiness": "/ready",
			"metrics":   "/metrics",
			"stats":     "/stats",
			"cleanup":   "/cleanup",
		},
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "cotbridge"})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	storeOK := s.deps.Store != nil && s.deps.Store.Ping(ctx) == nil
	senderOK := s.deps.Sender != nil && s.deps.Sender.Healthy()
	schedulerOK := s.deps.Scheduler != nil && s.deps.Scheduler.Running()

	checks := gin.H{
		"store":     storeOK,
		"sender":    senderOK,
		"scheduler": schedulerOK,
	}

	if storeOK && senderOK && schedulerOK {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": checks})
}

func (s *Server) handleStats(c *gin.Context) {
	feedStats := gin.H{}
	for _, p := range s.deps.Pollers {
		kind := p.Kind()
		entry := gin.H{
			"counters": s.deps.Engine.Snapshot(kind),
			"health":   p.Health(),
		}
		if wm := p.Watermark(); !wm.IsZero() {
			entry["watermark"] = wm.UTC()
		}
		feedStats[string(kind)] = entry
	}

	resp := gin.H{
		"feeds": feedStats,
		"sender": gin.H{
			"healthy": s.deps.Sender != nil && s.deps.Sender.Healthy(),
		},
	}
	if cfg := s.deps.Config; cfg != nil {
		resp["configuration"] = gin.H{
			"poll_interval":   cfg.Poll.Interval.String(),
			"standard_stale":  cfg.CoT.StandardStale.String(),
			"removal_stale":   cfg.CoT.RemovalStale.String(),
			"refresh_ceiling": cfg.CoT.RefreshCeiling.String(),
			"store_backend":   cfg.Store.Backend,
			"fire_dataset":    cfg.SODA.FireDataset,
			"traffic_dataset": cfg.SODA.TrafficDataset,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleCleanup purges tracked incidents last seen more than ?days ago.
// Housekeeping only; the hot path never calls this.
func (s *Server) handleCleanup(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	purged, err := s.deps.Engine.PurgeOlderThan(c.Request.Context(), cutoff)
	if err != nil {
		s.deps.Logger.Error("cleanup failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged, "cutoff": cutoff})
}
