package models

import "time"

// EventType names a realtime message on the wire
type EventType string

const (
	EventSnapshot    EventType = "auction.snapshot"
	EventBidAccepted EventType = "auction.bidAccepted"
	EventExtended    EventType = "auction.extended"
	EventClosed      EventType = "auction.closed"
	EventStarted     EventType = "auction.started"
	EventPresence    EventType = "auction.presence"

	// replies addressed to a single connection
	EventBidResult EventType = "auction.bidResult"
	EventError     EventType = "auction.error"
)

// Event is a state change to deliver to the observers of one auction.
// Version is the auction record version the event was derived from.
type Event struct {
	Type      EventType `json:"type"`
	AuctionID string    `json:"auctionId"`
	Version   int64     `json:"version"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotPayload is the full state sent to a member on join
type SnapshotPayload struct {
	AuctionID       string        `json:"auctionId"`
	ListingID       string        `json:"listingId"`
	SellerID        string        `json:"sellerId"`
	StartingBid     float64       `json:"startingBid"`
	BidIncrement    float64       `json:"bidIncrement"`
	CurrentBid      float64       `json:"currentBid"`
	MinimumBid      float64       `json:"minimumBid"`
	HighestBidderID string        `json:"highestBidderId,omitempty"`
	TotalBids       int64         `json:"totalBids"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Status          AuctionStatus `json:"status"`
	ReserveMet      *bool         `json:"reserveMet,omitempty"`
	OrderRef        string        `json:"orderRef,omitempty"`
}

type BidAcceptedPayload struct {
	Amount     float64    `json:"amount"`
	BidderID   string     `json:"bidderId"`
	TotalBids  int64      `json:"totalBids"`
	NewEndTime *time.Time `json:"newEndTime,omitempty"`
}

type ExtendedPayload struct {
	NewEndTime time.Time `json:"newEndTime"`
}

type ClosedPayload struct {
	Outcome     AuctionStatus `json:"outcome"`
	WinnerID    string        `json:"winnerId,omitempty"`
	FinalAmount *float64      `json:"finalAmount,omitempty"`
	OrderRef    string        `json:"orderRef,omitempty"`
}

type StartedPayload struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type PresencePayload struct {
	ActiveUsers int `json:"activeUsers"`
}
