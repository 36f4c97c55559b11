package handler

import (
	"context"
	"fmt"
	"net/http"

	bidding "auction-engine/internal/biddingService"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

//go:generate mockgen -destination=mock_bidding_service.go -package=handler auction-engine/services/bidding/handler BiddingServiceInterface

type BiddingServiceInterface interface {
	CreateAuction(ctx context.Context, req model.NewAuction) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetBids(ctx context.Context, auctionID string) ([]model.Bid, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount float64) (bidding.BidResult, error)
	CancelAuction(ctx context.Context, auctionID, requesterID string, admin bool) (model.Auction, error)
	Reconcile(ctx context.Context, auctionID string) (model.Auction, bool, error)
	JoinSnapshot(ctx context.Context, auctionID string) (model.Event, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// auctionParam reads and checks the :auction_id path parameter
func auctionParam(c *gin.Context, handlerName string) (string, bool) {
	auctionID := c.Param("auction_id")
	if !utils.IsValidID(auctionID) {
		utils.JSONError(c, http.StatusBadRequest, fmt.Errorf("malformed auction id %q", auctionID), "invalid auction id")
		utils.Warn(handlerName+": malformed auction id", map[string]any{"auction_id": auctionID})
		return "", false
	}
	return auctionID, true
}

func respondServiceError(c *gin.Context, handlerName, logMessage string, err error, fields map[string]any) {
	status, message := helpers.MapErrorToHTTP(err)
	if details, ok := helpers.RejectionFromError(err); ok {
		utils.JSONErrorWithDetails(c, status, fmt.Errorf("%s: %w", message, err), message, details)
	} else {
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
	}

	fields["handler"] = handlerName
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": "+logMessage, fields)
		return
	}
	utils.Warn(handlerName+": "+logMessage, fields)
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	sellerID, _, ok := helpers.RequireUser(c, "CreateAuctionHandler")
	if !ok {
		return
	}

	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	newAuction := model.NewAuction{
		ListingID:    req.ListingID,
		SellerID:     sellerID,
		StartingBid:  req.StartingBid,
		BidIncrement: req.BidIncrement,
		ReservePrice: req.ReservePrice,
		EndTime:      req.EndTime,
	}
	if req.StartTime != nil {
		newAuction.StartTime = *req.StartTime
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), newAuction)
	if err != nil {
		respondServiceError(c, "CreateAuctionHandler", "failed to create auction", err, map[string]any{
			"listing_id": req.ListingID,
			"seller_id":  sellerID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToAuctionResponse(auction), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.ID,
		"listing_id": auction.ListingID,
		"status":     string(auction.Status),
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID, ok := auctionParam(c, "GetAuctionHandler")
	if !ok {
		return
	}

	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		respondServiceError(c, "GetAuctionHandler", "error retrieving auction", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(auction), "auction retrieved successfully")
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID, ok := auctionParam(c, "PlaceBidHandler")
	if !ok {
		return
	}
	bidderID, _, ok := helpers.RequireUser(c, "PlaceBidHandler")
	if !ok {
		return
	}

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	result, err := h.service.PlaceBid(c.Request.Context(), auctionID, bidderID, req.Amount)
	if err != nil {
		respondServiceError(c, "PlaceBidHandler", "failed to place bid", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    bidderID,
			"amount":     req.Amount,
		})
		return
	}

	resp := helpers.PlaceBidResponse{
		Bid:      helpers.ToBidResponse(result.Bid),
		Auction:  helpers.ToAuctionResponse(result.Auction),
		Extended: result.Extended,
	}
	utils.JSONResponse(c, http.StatusCreated, resp, "bid recorded successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     result.Bid.BidID,
		"auction_id": auctionID,
		"user_id":    bidderID,
		"amount":     result.Bid.Amount,
		"extended":   result.Extended,
	})
}

// GetBidsHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsHandler(c *gin.Context) {
	auctionID, ok := auctionParam(c, "GetBidsHandler")
	if !ok {
		return
	}

	bids, err := h.service.GetBids(c.Request.Context(), auctionID)
	if err != nil {
		respondServiceError(c, "GetBidsHandler", "error retrieving bids", err, map[string]any{"auction_id": auctionID})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, helpers.ToBidResponse(b))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(resp),
	})
}

// CancelAuctionHandler handles POST /auctions/:auction_id/cancel
func (h *BiddingHandler) CancelAuctionHandler(c *gin.Context) {
	auctionID, ok := auctionParam(c, "CancelAuctionHandler")
	if !ok {
		return
	}
	userID, admin, ok := helpers.RequireUser(c, "CancelAuctionHandler")
	if !ok {
		return
	}

	auction, err := h.service.CancelAuction(c.Request.Context(), auctionID, userID, admin)
	if err != nil {
		respondServiceError(c, "CancelAuctionHandler", "failed to cancel auction", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    userID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAuctionResponse(auction), "auction cancelled successfully")
	helpers.LogSuccess("CancelAuctionHandler", "auction cancelled", map[string]any{
		"auction_id": auctionID,
		"user_id":    userID,
		"admin":      admin,
	})
}

// ReconcileHandler handles POST /auctions/:auction_id/reconcile (admin only)
func (h *BiddingHandler) ReconcileHandler(c *gin.Context) {
	auctionID, ok := auctionParam(c, "ReconcileHandler")
	if !ok {
		return
	}
	userID, admin, ok := helpers.RequireUser(c, "ReconcileHandler")
	if !ok {
		return
	}
	if !admin {
		utils.JSONError(c, http.StatusForbidden, fmt.Errorf("user %s is not an admin", userID), "operation not permitted")
		return
	}

	auction, repaired, err := h.service.Reconcile(c.Request.Context(), auctionID)
	if err != nil {
		respondServiceError(c, "ReconcileHandler", "failed to reconcile auction", err, map[string]any{"auction_id": auctionID})
		return
	}

	resp := helpers.ReconcileResponse{Auction: helpers.ToAuctionResponse(auction), Repaired: repaired}
	utils.JSONResponse(c, http.StatusOK, resp, "auction reconciled")
	helpers.LogSuccess("ReconcileHandler", "auction reconciled", map[string]any{
		"auction_id": auctionID,
		"repaired":   repaired,
	})
}
