package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"diet-plan-delivery/internal/delivery"
	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/payment"
	"diet-plan-delivery/internal/pipeline"
	"diet-plan-delivery/internal/planner"
)

// StatusFor maps a pipeline or stage error to an HTTP status. Rejections are
// client errors, failures after verification are server errors.
func StatusFor(err error) int {
	var (
		valErr  *pipeline.ValidationError
		verErr  *payment.VerificationError
		genErr  *planner.GenerationError
		rendErr *document.RenderError
		delErr  *delivery.DeliveryError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &verErr):
		if verErr.Retryable() || verErr.Reason == payment.ReasonMalformed {
			return http.StatusServiceUnavailable
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotRetryable), errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.As(err, &delErr):
		return http.StatusBadGateway
	case errors.As(err, &genErr), errors.As(err, &rendErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(StatusFor(err), gin.H{"error": err.Error(), "errorKind": pipeline.ErrorKind(err)})
}

func respondOutcome(c *gin.Context, out pipeline.Outcome, err error) {
	if err != nil {
		c.JSON(StatusFor(err), gin.H{
			"error":         err.Error(),
			"errorKind":     pipeline.ErrorKind(err),
			"correlationId": out.CorrelationID,
			"state":         out.State,
			"outcome":       out,
		})
		return
	}
	c.JSON(http.StatusOK, out)
}
