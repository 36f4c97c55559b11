package helpers

import (
	"time"

	model "auction-engine/internal/models"
	"auction-engine/internal/validator"
)

// Request/Response DTOs
type CreateAuctionRequest struct {
	ListingID    string     `json:"listing_id" binding:"required"`
	StartingBid  float64    `json:"starting_bid" binding:"required,gt=0"`
	BidIncrement float64    `json:"bid_increment" binding:"omitempty,gt=0"`
	ReservePrice *float64   `json:"reserve_price" binding:"omitempty,gt=0"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      time.Time  `json:"end_time" binding:"required"`
}

type PlaceBidRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// AuctionResponse never reveals the reserve amount, only whether it is met
type AuctionResponse struct {
	ID              string              `json:"id"`
	ListingID       string              `json:"listing_id"`
	SellerID        string              `json:"seller_id"`
	StartingBid     float64             `json:"starting_bid"`
	BidIncrement    float64             `json:"bid_increment"`
	CurrentBid      float64             `json:"current_bid"`
	MinimumBid      float64             `json:"minimum_bid"`
	HighestBidderID string              `json:"highest_bidder_id,omitempty"`
	TotalBids       int64               `json:"total_bids"`
	HasReserve      bool                `json:"has_reserve"`
	ReserveMet      *bool               `json:"reserve_met,omitempty"`
	StartTime       string              `json:"start_time"`
	EndTime         string              `json:"end_time"`
	Status          model.AuctionStatus `json:"status"`
	OrderRef        string              `json:"order_ref,omitempty"`
	Version         int64               `json:"version"`
}

type BidResponse struct {
	BidID     string  `json:"bid_id"`
	AuctionID string  `json:"auction_id"`
	BidderID  string  `json:"bidder_id"`
	Amount    float64 `json:"amount"`
	Sequence  int64   `json:"sequence"`
	CreatedAt string  `json:"created_at"`
}

type PlaceBidResponse struct {
	Bid      BidResponse     `json:"bid"`
	Auction  AuctionResponse `json:"auction"`
	Extended bool            `json:"extended"`
}

type ReconcileResponse struct {
	Auction  AuctionResponse `json:"auction"`
	Repaired bool            `json:"repaired"`
}

// RejectionDetails accompanies a refused bid
type RejectionDetails struct {
	Reason        string  `json:"reason"`
	MinimumAmount float64 `json:"minimum_amount,omitempty"`
}

// InboundMessage is a request received on the realtime socket
type InboundMessage struct {
	Type      string  `json:"type"`
	AuctionID string  `json:"auctionId"`
	Amount    float64 `json:"amount,omitempty"`
	RequestID string  `json:"requestId,omitempty"`
}

// Inbound message types
const (
	MessageJoin     = "auction.join"
	MessageLeave    = "auction.leave"
	MessagePlaceBid = "auction.placeBid"
)

// BidResultPayload answers an auction.placeBid on the same connection
type BidResultPayload struct {
	RequestID     string       `json:"requestId,omitempty"`
	Accepted      bool         `json:"accepted"`
	Reason        string       `json:"reason,omitempty"`
	Message       string       `json:"message,omitempty"`
	MinimumAmount float64      `json:"minimumAmount,omitempty"`
	Bid           *BidResponse `json:"bid,omitempty"`
}

type ErrorPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
}

func ToAuctionResponse(a model.Auction) AuctionResponse {
	resp := AuctionResponse{
		ID:              a.ID,
		ListingID:       a.ListingID,
		SellerID:        a.SellerID,
		StartingBid:     a.StartingBid,
		BidIncrement:    a.BidIncrement,
		CurrentBid:      a.CurrentBid,
		MinimumBid:      validator.MinimumBid(a),
		HighestBidderID: a.HighestBidderID,
		TotalBids:       a.TotalBids,
		HasReserve:      a.HasReserve(),
		StartTime:       a.StartTime.UTC().Format(time.RFC3339),
		EndTime:         a.EndTime.UTC().Format(time.RFC3339),
		Status:          a.Status,
		OrderRef:        a.OrderRef,
		Version:         a.Version,
	}
	if a.HasReserve() {
		met := validator.ReserveMet(a)
		resp.ReserveMet = &met
	}
	return resp
}

func ToBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:     b.BidID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		Sequence:  b.Sequence,
		CreatedAt: b.Timestamp.UTC().Format(time.RFC3339),
	}
}
