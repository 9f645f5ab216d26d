package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/metagraph-backend/internal/ops"
	"github.com/yungbote/metagraph-backend/internal/registry"
)

type HealthHandler struct {
	reg   *registry.Registry
	synth *ops.Synthesizer
}

func NewHealthHandler(reg *registry.Registry, synth *ops.Synthesizer) *HealthHandler {
	return &HealthHandler{reg: reg, synth: synth}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"registry_loaded": h.reg != nil,
		"entity_types":    h.reg.EntityTypes(),
		"aspects":         len(h.reg.AspectNames()),
		"operations":      len(h.synth.Names()),
	})
}

func (h *HealthHandler) Operations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operations": h.synth.Names()})
}
