package api

import (
	"errors"
	"net/http"

	"bakery-service/internal/apperr"
	"bakery-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps domain errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a 500.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		invalid    *apperr.ValidationError
		notFound   *apperr.NotFoundError
		conflict   *apperr.StockConflictError
		transition *apperr.InvalidTransitionError
		rejected   *apperr.CouponRejectedError
		forbidden  *apperr.ForbiddenError
	)

	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Message, "field": invalid.Field})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient stock", "conflicts": conflict.Conflicts})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": transition.Error(), "from": transition.From, "to": transition.To})
	case errors.As(err, &rejected):
		c.JSON(http.StatusBadRequest, gin.H{"error": rejected.Error(), "reason": rejected.Reason})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": forbidden.Message})
	case errors.Is(err, service.ErrRequestInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal server error",
			"details": err.Error(),
		})
	}
}

// writeCouponError reports a rejected code as 404 with its reason.
func (h *Handler) writeCouponError(c *gin.Context, err error) {
	var rejected *apperr.CouponRejectedError
	if errors.As(err, &rejected) {
		c.JSON(http.StatusNotFound, gin.H{"reason": rejected.Reason})
		return
	}
	h.writeError(c, err)
}
