package models

import "time"

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusScheduled     AuctionStatus = "scheduled"
	StatusActive        AuctionStatus = "active"
	StatusEnding        AuctionStatus = "ending"
	StatusSold          AuctionStatus = "sold"
	StatusUnsold        AuctionStatus = "unsold"
	StatusReserveNotMet AuctionStatus = "reserve_not_met"
	StatusCancelled     AuctionStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the status
func (s AuctionStatus) IsTerminal() bool {
	switch s {
	case StatusSold, StatusUnsold, StatusReserveNotMet, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case StatusScheduled:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusActive || next == StatusEnding || next.IsTerminal()
	case StatusEnding:
		return next == StatusSold || next == StatusUnsold || next == StatusReserveNotMet
	}
	return false
}

// Auction is the authoritative record of one listing sold by auction
type Auction struct {
	ID              string        `json:"id"`
	ListingID       string        `json:"listing_id"`
	SellerID        string        `json:"seller_id"`
	StartingBid     float64       `json:"starting_bid"`
	BidIncrement    float64       `json:"bid_increment"`
	ReservePrice    *float64      `json:"reserve_price,omitempty"`
	CurrentBid      float64       `json:"current_bid"`
	HighestBidderID string        `json:"highest_bidder_id,omitempty"`
	TotalBids       int64         `json:"total_bids"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Status          AuctionStatus `json:"status"`
	OrderRef        string        `json:"order_ref,omitempty"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
	Archived        bool          `json:"archived"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HasReserve reports whether a reserve price was set at creation
func (a Auction) HasReserve() bool {
	return a.ReservePrice != nil
}

// Clone returns a copy that shares no pointers with a
func (a Auction) Clone() Auction {
	c := a
	if a.ReservePrice != nil {
		rp := *a.ReservePrice
		c.ReservePrice = &rp
	}
	if a.ClosedAt != nil {
		ca := *a.ClosedAt
		c.ClosedAt = &ca
	}
	return c
}

// Bid is one accepted entry of an auction's ledger
type Bid struct {
	BidID     string    `json:"bid_id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    float64   `json:"amount"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAuction holds the parameters of a listing published as auction-type
type NewAuction struct {
	ListingID    string
	SellerID     string
	StartingBid  float64
	BidIncrement float64
	ReservePrice *float64
	StartTime    time.Time
	EndTime      time.Time
}

// OrderRequest is what the order collaborator needs to materialize a sale
type OrderRequest struct {
	AuctionID string  `json:"auction_id"`
	ListingID string  `json:"listing_id"`
	BuyerID   string  `json:"buyer_id"`
	SellerID  string  `json:"seller_id"`
	Amount    float64 `json:"amount"`
}

// OrderRef identifies an order created by the order collaborator
type OrderRef string
