package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/metagraph-backend/internal/coordinator"
	"github.com/yungbote/metagraph-backend/internal/http/response"
	"github.com/yungbote/metagraph-backend/internal/ops"
	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
)

type AspectHandler struct {
	synth *ops.Synthesizer
	coord *coordinator.Coordinator
	log   *logger.Logger
}

func NewAspectHandler(synth *ops.Synthesizer, coord *coordinator.Coordinator, log *logger.Logger) *AspectHandler {
	return &AspectHandler{synth: synth, coord: coord, log: log.With("handler", "Aspect")}
}

type aspectUpsertRequest struct {
	EntityType   string                 `json:"entity_type"`
	EntityURN    string                 `json:"entity_urn"`
	EntityParams map[string]string      `json:"entity_params"`
	Payload      map[string]interface{} `json:"payload"`
	TimestampMS  int64                  `json:"timestamp_ms"`
}

func (h *AspectHandler) Upsert(c *gin.Context) {
	aspectName := c.Param("name")
	op, ok := h.synth.Op("upsert_" + aspectName + "_aspect")
	if !ok {
		response.RespondError(c, apierr.Newf(apierr.KindUnknownAspect, "unknown aspect %q", aspectName).WithField("name"))
		return
	}
	var body aspectUpsertRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, apierr.Newf(apierr.KindValidation, "invalid request body: %v", err))
		return
	}
	result, err := h.coord.Execute(c.Request.Context(), c.GetString("request_id"), op, ops.Request{
		EntityType:  body.EntityType,
		URN:         body.EntityURN,
		Params:      body.EntityParams,
		Payload:     body.Payload,
		TimestampMS: body.TimestampMS,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (h *AspectHandler) Get(c *gin.Context) {
	aspectName := c.Param("name")
	op, ok := h.synth.Op("get_" + aspectName + "_aspect")
	if !ok {
		response.RespondError(c, apierr.Newf(apierr.KindUnknownAspect, "unknown aspect %q", aspectName).WithField("name"))
		return
	}
	fromMS, _ := strconv.ParseInt(c.Query("from_ms"), 10, 64)
	toMS, _ := strconv.ParseInt(c.Query("to_ms"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	result, err := h.coord.Execute(c.Request.Context(), c.GetString("request_id"), op, ops.Request{
		EntityType: c.Query("entity_type"),
		URN:        c.Query("urn"),
		Params:     queryParams(c, "urn", "entity_type", "from_ms", "to_ms", "limit"),
		FromMS:     fromMS,
		ToMS:       toMS,
		Limit:      limit,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (h *AspectHandler) Delete(c *gin.Context) {
	aspectName := c.Param("name")
	op, ok := h.synth.Op("delete_" + aspectName + "_aspect")
	if !ok {
		response.RespondError(c, apierr.Newf(apierr.KindUnknownAspect, "unknown aspect %q", aspectName).WithField("name"))
		return
	}
	result, err := h.coord.Execute(c.Request.Context(), c.GetString("request_id"), op, ops.Request{
		EntityType: c.Query("entity_type"),
		URN:        c.Query("urn"),
		Params:     queryParams(c, "urn", "entity_type"),
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, result)
}
