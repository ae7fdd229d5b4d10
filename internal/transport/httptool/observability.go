package httptool

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cryptolabinc/rune-vault/internal/health"
	"github.com/cryptolabinc/rune-vault/internal/security"
)

var ready atomic.Bool

// MarkReady flips the readiness flag returned by /health/ready. Call once
// the keyset has been loaded and all enabled transports are listening.
func MarkReady() {
	ready.Store(true)
}

func registerObservability(r *gin.Engine, checker *health.Checker) {
	r.GET("/health", handleHealth(checker))
	r.GET("/health/ready", handleReady)
	r.GET("/health/live", handleLive)
	r.GET("/status", handleHealth(checker))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func handleHealth(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, gin.H{"status": string(health.StatusHealthy)})
			return
		}
		snap, err := checker.Sample(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": string(health.StatusUnhealthy), "error": err.Error()})
			return
		}
		recordHealthMetrics(snap)
		status := http.StatusOK
		if snap.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, snap)
	}
}

func handleReady(c *gin.Context) {
	if !ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}

func recordHealthMetrics(snap health.Snapshot) {
	if security.VaultHealthStatus == nil {
		return
	}
	healthy := 0.0
	if snap.Status == health.StatusHealthy {
		healthy = 1.0
	}
	security.VaultHealthStatus.Set(healthy)
	security.VaultCPUUsage.Set(snap.CPUPercent)
	security.VaultMemoryUsage.Set(snap.MemoryPercent)
	security.VaultUptimeSeconds.Set(snap.UptimeSeconds)
}
