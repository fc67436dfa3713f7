package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kallerud/artmarket/internal/market"
)

// mapError translates domain sentinels to an HTTP status and a safe
// client message. Unexpected errors become a bare 500; internals never
// leak to the client.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, market.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, market.ErrPermission):
		return http.StatusForbidden, "permission denied"
	case errors.Is(err, market.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, market.ErrAuctionNotOpen):
		return http.StatusConflict, "auction is not open"
	case errors.Is(err, market.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient funds"
	case errors.Is(err, market.ErrSelfBid):
		return http.StatusBadRequest, "cannot bid on your own auction"
	case errors.Is(err, market.ErrBidTooLow):
		return http.StatusBadRequest, "bid amount too low"
	case errors.Is(err, market.ErrValidation):
		return http.StatusBadRequest, "validation failed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func abortWithError(c *gin.Context, err error) {
	status, message := mapError(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
