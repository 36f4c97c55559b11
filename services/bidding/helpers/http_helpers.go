package helpers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"auction-engine/internal/biddingerrors"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// Identity headers set by the upstream gateway; authentication itself happens there
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	RoleAdmin      = "admin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// CurrentUser returns the caller's identity from the request headers
func CurrentUser(c *gin.Context) (userID string, admin bool) {
	userID = strings.TrimSpace(c.GetHeader(HeaderUserID))
	admin = strings.EqualFold(strings.TrimSpace(c.GetHeader(HeaderUserRole)), RoleAdmin)
	return userID, admin
}

// RequireUser aborts with 401 when the request carries no identity
func RequireUser(c *gin.Context, handlerName string) (string, bool, bool) {
	userID, admin := CurrentUser(c)
	if userID == "" {
		utils.JSONError(c, http.StatusUnauthorized, fmt.Errorf("missing %s header", HeaderUserID), "user identity required")
		utils.Warn(handlerName+": missing identity", map[string]any{"path": c.Request.URL.Path})
		return "", false, false
	}
	return userID, admin, true
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrSellerCannotBid):
		return http.StatusForbidden, "seller cannot bid on own auction"
	case errors.Is(err, biddingerrors.ErrAuctionEnded):
		return http.StatusConflict, "auction has ended"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return http.StatusConflict, "auction is not active"
	case errors.Is(err, biddingerrors.ErrAuctionExists):
		return http.StatusConflict, "auction already exists for listing"
	case errors.Is(err, biddingerrors.ErrNotPermitted):
		return http.StatusForbidden, "operation not permitted"
	case errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusConflict, "invalid status transition"
	case errors.Is(err, biddingerrors.ErrTransient),
		errors.Is(err, biddingerrors.ErrVersionConflict),
		errors.Is(err, biddingerrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "temporarily unavailable, re-fetch the auction and resubmit"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "outcome unknown, re-fetch the auction"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// RejectionFromError extracts the actionable details of a refused bid
func RejectionFromError(err error) (RejectionDetails, bool) {
	var rejection *biddingerrors.BidRejection
	if !errors.As(err, &rejection) {
		return RejectionDetails{}, false
	}
	details := RejectionDetails{Reason: rejection.ReasonCode()}
	if errors.Is(rejection.Reason, biddingerrors.ErrBidTooLow) {
		details.MinimumAmount = rejection.MinimumAmount
	}
	return details, true
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
