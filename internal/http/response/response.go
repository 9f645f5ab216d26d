package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
)

type APIError struct {
	Message       string `json:"message"`
	Code          string `json:"code,omitempty"`
	Field         string `json:"field,omitempty"`
	URN           string `json:"urn,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Transient     bool   `json:"transient,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondError maps the error taxonomy onto HTTP statuses and renders the
// standard envelope.
func RespondError(c *gin.Context, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		c.JSON(status, ErrorEnvelope{
			Error: APIError{
				Message:       ae.Error(),
				Code:          string(ae.Kind),
				Field:         ae.Field,
				URN:           ae.URN,
				CorrelationID: ae.CorrelationID,
				Transient:     ae.Transient,
			},
		})
		return
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(http.StatusInternalServerError, ErrorEnvelope{
		Error: APIError{Message: msg, Code: string(apierr.KindInternal)},
	})
}
