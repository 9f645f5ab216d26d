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

type EntityHandler struct {
	synth *ops.Synthesizer
	coord *coordinator.Coordinator
	log   *logger.Logger
}

func NewEntityHandler(synth *ops.Synthesizer, coord *coordinator.Coordinator, log *logger.Logger) *EntityHandler {
	return &EntityHandler{synth: synth, coord: coord, log: log.With("handler", "Entity")}
}

type entityUpsertRequest struct {
	Params               map[string]string      `json:"params"`
	AdditionalProperties map[string]interface{} `json:"additional_properties"`
}

func (h *EntityHandler) Upsert(c *gin.Context) {
	entityType := c.Param("type")
	op, ok := h.synth.Op("upsert_" + entityType)
	if !ok {
		response.RespondError(c, apierr.Newf(apierr.KindValidation, "unknown entity type %q", entityType).WithField("type"))
		return
	}
	var body entityUpsertRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, apierr.Newf(apierr.KindValidation, "invalid request body: %v", err))
		return
	}
	result, err := h.coord.Execute(c.Request.Context(), c.GetString("request_id"), op, ops.Request{
		Params:     body.Params,
		Properties: body.AdditionalProperties,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (h *EntityHandler) Get(c *gin.Context) {
	entityType := c.Param("type")
	op, ok := h.synth.Op("get_" + entityType)
	if !ok {
		response.RespondError(c, apierr.Newf(apierr.KindValidation, "unknown entity type %q", entityType).WithField("type"))
		return
	}
	result, err := h.coord.Execute(c.Request.Context(), c.GetString("request_id"), op, ops.Request{
		URN:    c.Query("urn"),
		Params: queryParams(c, "urn"),
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (h *EntityHandler) Delete(c *gin.Context) {
	entityType := c.Param("type")
	op, ok := h.synth.Op("delete_" + entityType)
	if !ok {
		response.RespondError(c, apierr.Newf(apierr.KindValidation, "unknown entity type %q", entityType).WithField("type"))
		return
	}
	cascade, _ := strconv.ParseBool(c.Query("cascade"))
	result, err := h.coord.Execute(c.Request.Context(), c.GetString("request_id"), op, ops.Request{
		URN:     c.Query("urn"),
		Params:  queryParams(c, "urn", "cascade"),
		Cascade: cascade,
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, result)
}

// queryParams collects the remaining query string as entity params so
// callers may address entities by identifying params instead of URN.
func queryParams(c *gin.Context, exclude ...string) map[string]string {
	skip := map[string]struct{}{}
	for _, k := range exclude {
		skip[k] = struct{}{}
	}
	out := map[string]string{}
	for k, vals := range c.Request.URL.Query() {
		if _, skipped := skip[k]; skipped || len(vals) == 0 {
			continue
		}
		out[k] = vals[0]
	}
	return out
}
