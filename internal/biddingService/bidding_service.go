package bidding

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/notifier"
	"auction-engine/internal/statemachine"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"time"
)

//go:generate mockgen -destination=mock_collaborators_test.go -package=bidding auction-engine/internal/biddingService OrderCreator,Notifier

const defaultOrderTimeout = 10 * time.Second

// OrderCreator materializes a sold auction into an order. Implementations
// must be idempotent by AuctionID.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req model.OrderRequest) (model.OrderRef, error)
}

// Notifier delivers best-effort user notifications
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload any) error
}

// Broadcaster fans transition events out to auction rooms
type Broadcaster interface {
	Broadcast(ctx context.Context, events ...model.Event)
}

// NotificationPayload is attached to every user notification
type NotificationPayload struct {
	AuctionID string  `json:"auctionId"`
	ListingID string  `json:"listingId"`
	Amount    float64 `json:"amount,omitempty"`
	OrderRef  string  `json:"orderRef,omitempty"`
}

// BidResult is returned for an accepted bid
type BidResult struct {
	Bid      model.Bid     `json:"bid"`
	Auction  model.Auction `json:"auction"`
	Extended bool          `json:"extended"`
}

// BiddingService orchestrates the state machine with its collaborators
type BiddingService struct {
	machine      *statemachine.Machine
	broadcaster  Broadcaster
	notifier     Notifier
	orders       OrderCreator
	metrics      *metrics.Metrics
	orderTimeout time.Duration
}

type Option func(*BiddingService)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *BiddingService) { s.metrics = m }
}

func WithOrderTimeout(d time.Duration) Option {
	return func(s *BiddingService) {
		if d > 0 {
			s.orderTimeout = d
		}
	}
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(context.Context, ...model.Event) {}

// NewBiddingService creates a new BiddingService instance. A nil broadcaster
// or notifier disables that side effect.
func NewBiddingService(machine *statemachine.Machine, broadcaster Broadcaster, n Notifier, orders OrderCreator, opts ...Option) *BiddingService {
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}
	if n == nil {
		n = notifier.LogNotifier{}
	}
	s := &BiddingService{
		machine:      machine,
		broadcaster:  broadcaster,
		notifier:     n,
		orders:       orders,
		orderTimeout: defaultOrderTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAuction publishes a listing as an auction
func (s *BiddingService) CreateAuction(ctx context.Context, req model.NewAuction) (model.Auction, error) {
	t, err := s.machine.Create(ctx, req)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}
	utils.Info("auction created", map[string]any{
		"auction_id": t.Auction.ID,
		"listing_id": t.Auction.ListingID,
		"status":     string(t.Auction.Status),
		"end_time":   t.Auction.EndTime,
	})
	return t.Auction, nil
}

// GetAuction returns the authoritative snapshot of an auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	a, err := s.machine.Snapshot(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// GetBids returns all bids for an auction, oldest first
func (s *BiddingService) GetBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	bids, err := s.machine.Bids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// PlaceBid validates and records a user's bid for an auction
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount float64) (BidResult, error) {
	if auctionID == "" || bidderID == "" {
		return BidResult{}, fmt.Errorf("service: %w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	t, err := s.machine.PlaceBid(ctx, auctionID, bidderID, amount)
	if err != nil {
		var rejection *biddingerrors.BidRejection
		if errors.As(err, &rejection) {
			s.metrics.BidRejected(rejection.ReasonCode())
		}
		return BidResult{}, fmt.Errorf("service: failed to place bid on auction %s by user %s: %w", auctionID, bidderID, err)
	}

	s.metrics.BidAccepted(t.Extended)
	s.broadcaster.Broadcast(ctx, t.Events...)

	outbid := t.Previous.HighestBidderID
	if outbid != "" && outbid != bidderID {
		s.notify(ctx, outbid, notifier.KindOutbid, t.Auction)
	}

	return BidResult{Bid: *t.Bid, Auction: t.Auction, Extended: t.Extended}, nil
}

// CancelAuction ends a scheduled or active auction for its seller or an admin
func (s *BiddingService) CancelAuction(ctx context.Context, auctionID, requesterID string, admin bool) (model.Auction, error) {
	if auctionID == "" || requesterID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - missing auctionID or requester", biddingerrors.ErrInvalidAuction)
	}
	t, err := s.machine.Cancel(ctx, auctionID, requesterID, admin)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to cancel auction %s: %w", auctionID, err)
	}

	s.metrics.AuctionClosed(string(t.Auction.Status))
	s.broadcaster.Broadcast(ctx, t.Events...)
	if leader := t.Auction.HighestBidderID; leader != "" {
		s.notify(ctx, leader, notifier.KindCancelled, t.Auction)
	}
	return t.Auction, nil
}

// Reconcile repairs an auction's bid fields from its ledger. Observers get
// a fresh snapshot when a repair was applied.
func (s *BiddingService) Reconcile(ctx context.Context, auctionID string) (model.Auction, bool, error) {
	if auctionID == "" {
		return model.Auction{}, false, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	t, err := s.machine.Reconcile(ctx, auctionID)
	if err != nil {
		return model.Auction{}, false, fmt.Errorf("service: failed to reconcile auction %s: %w", auctionID, err)
	}
	if t.Applied {
		s.broadcaster.Broadcast(ctx, statemachine.SnapshotEvent(t.Auction, s.machine.Now()))
	}
	return t.Auction, t.Applied, nil
}

// JoinSnapshot builds the snapshot event sent to a member joining a room
func (s *BiddingService) JoinSnapshot(ctx context.Context, auctionID string) (model.Event, error) {
	a, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Event{}, err
	}
	return statemachine.SnapshotEvent(a, s.machine.Now()), nil
}

// ActivateDue starts every scheduled auction whose start time has passed
func (s *BiddingService) ActivateDue(ctx context.Context) (int, error) {
	due, err := s.machine.DueForStart(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: %w", err)
	}

	var errs []error
	activated := 0
	for _, a := range due {
		t, err := s.machine.Activate(ctx, a.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !t.Applied {
			continue
		}
		activated++
		s.broadcaster.Broadcast(ctx, t.Events...)
	}
	return activated, errors.Join(errs...)
}

// CloseDue settles every active auction whose end time has passed. Safe to
// run concurrently with itself and with bidding.
func (s *BiddingService) CloseDue(ctx context.Context) (int, error) {
	due, err := s.machine.DueForClose(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: %w", err)
	}

	var errs []error
	closed := 0
	for _, a := range due {
		applied, err := s.CloseAuction(ctx, a.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if applied {
			closed++
		}
	}
	return closed, errors.Join(errs...)
}

// CloseAuction runs the closure transition for one auction. It reports
// false when another caller already closed it or it has not ended yet.
// The closed event is broadcast even when order creation fails; the order
// is then left for RetryPendingOrders.
func (s *BiddingService) CloseAuction(ctx context.Context, auctionID string) (bool, error) {
	t, err := s.machine.Close(ctx, auctionID)
	if err != nil {
		return false, fmt.Errorf("service: failed to close auction %s: %w", auctionID, err)
	}
	if !t.Applied {
		return false, nil
	}

	a := t.Auction
	events := t.Events
	s.metrics.AuctionClosed(string(a.Status))
	utils.Info("auction closed", map[string]any{
		"auction_id": a.ID,
		"outcome":    string(a.Status),
		"total_bids": a.TotalBids,
		"amount":     a.CurrentBid,
	})

	if t.Order != nil {
		if settled, err := s.settleOrder(ctx, *t.Order); err == nil {
			a = settled.Auction
			if settled.Applied {
				events = settled.Events
			}
		}
	}

	s.broadcaster.Broadcast(ctx, events...)
	s.notifyClosure(ctx, a)
	return true, nil
}

// RetryPendingOrders re-attempts order creation for sold auctions that have
// no order reference yet.
func (s *BiddingService) RetryPendingOrders(ctx context.Context) (int, error) {
	pending, err := s.machine.PendingOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: %w", err)
	}

	var errs []error
	settled := 0
	for _, a := range pending {
		t, err := s.settleOrder(ctx, model.OrderRequest{
			AuctionID: a.ID,
			ListingID: a.ListingID,
			BuyerID:   a.HighestBidderID,
			SellerID:  a.SellerID,
			Amount:    a.CurrentBid,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		settled++
		if t.Applied {
			s.broadcaster.Broadcast(ctx, t.Events...)
		}
	}
	return settled, errors.Join(errs...)
}

// ArchiveTerminal flags terminal auctions older than retention
func (s *BiddingService) ArchiveTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.machine.Archive(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("service: %w", err)
	}
	if n > 0 {
		utils.Info("archived terminal auctions", map[string]any{"count": n, "retention": retention.String()})
	}
	return n, nil
}

// settleOrder asks the order collaborator for an order and records its
// reference on the auction.
func (s *BiddingService) settleOrder(ctx context.Context, req model.OrderRequest) (statemachine.Transition, error) {
	if s.orders == nil {
		return statemachine.Transition{}, fmt.Errorf("service: %w - no order collaborator configured", biddingerrors.ErrOrderServiceUnavailable)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.orderTimeout)
	ref, err := s.orders.CreateOrder(callCtx, req)
	cancel()
	if err != nil {
		s.metrics.OrderFailed()
		utils.Warn("order creation failed, will retry", map[string]any{
			"auction_id": req.AuctionID,
			"buyer_id":   req.BuyerID,
			"error":      err.Error(),
		})
		return statemachine.Transition{}, fmt.Errorf("service: create order for auction %s: %w", req.AuctionID, err)
	}

	t, err := s.machine.RecordOrder(ctx, req.AuctionID, ref)
	if err != nil {
		utils.Error("failed to record order reference", map[string]any{
			"auction_id": req.AuctionID,
			"order_ref":  string(ref),
			"error":      err.Error(),
		})
		return statemachine.Transition{}, fmt.Errorf("service: record order for auction %s: %w", req.AuctionID, err)
	}
	return t, nil
}

func (s *BiddingService) notifyClosure(ctx context.Context, a model.Auction) {
	switch a.Status {
	case model.StatusSold:
		s.notify(ctx, a.HighestBidderID, notifier.KindWon, a)
		s.notify(ctx, a.SellerID, notifier.KindSold, a)
	case model.StatusReserveNotMet:
		s.notify(ctx, a.SellerID, notifier.KindReserveNotMet, a)
		s.notify(ctx, a.HighestBidderID, notifier.KindReserveNotMet, a)
	case model.StatusUnsold:
		s.notify(ctx, a.SellerID, notifier.KindUnsold, a)
	}
}

func (s *BiddingService) notify(ctx context.Context, userID, kind string, a model.Auction) {
	if userID == "" {
		return
	}
	payload := NotificationPayload{
		AuctionID: a.ID,
		ListingID: a.ListingID,
		Amount:    a.CurrentBid,
		OrderRef:  a.OrderRef,
	}
	if err := s.notifier.Notify(ctx, userID, kind, payload); err != nil {
		utils.Warn("notification failed", map[string]any{
			"user_id":    userID,
			"kind":       kind,
			"auction_id": a.ID,
			"error":      err.Error(),
		})
	}
}
