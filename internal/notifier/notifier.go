// Package notifier delivers user notifications about auction activity.
// Delivery is fire-and-forget: failures are logged, never surfaced to bidders.
package notifier

import (
	"auction-engine/utils"
	"context"
	"time"
)

// Notification kinds
const (
	KindOutbid        = "bid.outbid"
	KindWon           = "auction.won"
	KindSold          = "auction.sold"
	KindUnsold        = "auction.unsold"
	KindReserveNotMet = "auction.reserve_not_met"
	KindCancelled     = "auction.cancelled"
)

// Notifier sends one notification to one user
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload any) error
}

// Message is the body published for each notification
type Message struct {
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LogNotifier writes notifications to the application log. It is used when
// no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID, kind string, payload any) error {
	utils.Info("notification", map[string]any{
		"user_id": userID,
		"kind":    kind,
		"payload": payload,
	})
	return nil
}
