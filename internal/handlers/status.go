package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/busimap/stackops/internal/config"
	"github.com/busimap/stackops/internal/models"
	"github.com/busimap/stackops/internal/probe"
)

type StatusHandler struct {
	cfg     *config.Config
	runtime Runtime
}

func NewStatusHandler(cfg *config.Config, runtime Runtime) *StatusHandler {
	return &StatusHandler{cfg: cfg, runtime: runtime}
}

// Health reports that the API itself is up.
// GET /healthz
func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"environment": h.cfg.Environment,
	})
}

// Services reports the container state of every declared service plus
// the result of its one-shot health probe. A runtime error for one
// service degrades that entry to "unknown" rather than failing the
// whole response.
// GET /api/services
func (h *StatusHandler) Services(c *gin.Context) {
	ctx := c.Request.Context()
	states := make([]models.ServiceState, 0, len(h.cfg.Stack.Services))
	for _, svc := range h.cfg.Stack.Services {
		state, err := h.runtime.State(ctx, svc)
		if err != nil {
			states = append(states, models.ServiceState{
				Name:      svc.Name,
				Container: svc.Container,
				State:     "unknown",
				Status:    err.Error(),
			})
			continue
		}
		if state.State == "running" {
			state.Healthy = h.probeOnce(ctx, svc)
		}
		states = append(states, state)
	}
	c.JSON(http.StatusOK, gin.H{"services": states})
}

// probeOnce runs the service's declared health probe a single time.
func (h *StatusHandler) probeOnce(ctx context.Context, svc models.ServiceDescriptor) bool {
	var p probe.Probe
	if svc.Probe.Kind == models.ProbeHTTP {
		p = probe.HTTPProbe{Service: svc.Name, URL: svc.Probe.URL}
	} else {
		p = probe.ExecProbe{
			Service:   svc.Name,
			Container: svc.Container,
			Command:   svc.Probe.Command,
			Runtime:   h.runtime,
		}
	}
	_, err := probe.Wait(ctx, p, 1, 0, config.ProbeTimeout(svc.Probe))
	return err == nil
}
