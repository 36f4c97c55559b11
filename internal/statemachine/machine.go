// Package statemachine owns every mutation of an auction record. Each
// operation reads the persisted snapshot, decides the next state, and
// commits it with a versioned write, retrying on conflict. Operations return
// the events to broadcast instead of emitting them.
package statemachine

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/validator"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultExtensionWindow = 2 * time.Minute
	DefaultMaxRetries      = 5
	DefaultBidIncrement    = 10.0
	minimumStartingBid     = 1.0
	minimumBidIncrement    = 1.0
)

// Settings tunes the machine. Zero values fall back to the defaults.
type Settings struct {
	ExtensionWindow time.Duration
	MaxRetries      int
	Now             func() time.Time
}

// Transition is the outcome of one state machine operation
type Transition struct {
	Previous model.Auction
	Auction  model.Auction
	Bid      *model.Bid
	Events   []model.Event
	Order    *model.OrderRequest
	Applied  bool
	Extended bool
}

// Machine drives auctions through their lifecycle
type Machine struct {
	db              repository.AuctionDB
	extensionWindow time.Duration
	maxRetries      int
	now             func() time.Time
}

// NewMachine creates a state machine over the given store
func NewMachine(db repository.AuctionDB, settings Settings) *Machine {
	m := &Machine{
		db:              db,
		extensionWindow: settings.ExtensionWindow,
		maxRetries:      settings.MaxRetries,
		now:             settings.Now,
	}
	if m.extensionWindow <= 0 {
		m.extensionWindow = DefaultExtensionWindow
	}
	if m.maxRetries <= 0 {
		m.maxRetries = DefaultMaxRetries
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// ExtensionWindow returns the anti-sniping window in effect
func (m *Machine) ExtensionWindow() time.Duration {
	return m.extensionWindow
}

// Now returns the machine's current time
func (m *Machine) Now() time.Time {
	return m.now()
}

// Create registers a new auction for a listing. It starts scheduled when
// its start time lies in the future and active otherwise.
func (m *Machine) Create(ctx context.Context, req model.NewAuction) (Transition, error) {
	now := m.now()

	if req.BidIncrement == 0 {
		req.BidIncrement = DefaultBidIncrement
	}
	if req.StartTime.IsZero() {
		req.StartTime = now
	}
	if err := validateNewAuction(req, now); err != nil {
		return Transition{}, err
	}

	status := model.StatusActive
	if req.StartTime.After(now) {
		status = model.StatusScheduled
	}

	auction := model.Auction{
		ID:           utils.GenerateID(),
		ListingID:    req.ListingID,
		SellerID:     req.SellerID,
		StartingBid:  req.StartingBid,
		BidIncrement: req.BidIncrement,
		ReservePrice: req.ReservePrice,
		CurrentBid:   req.StartingBid,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	stored, err := m.db.CreateAuction(ctx, auction)
	if err != nil {
		return Transition{}, fmt.Errorf("statemachine: create auction for listing %s: %w", req.ListingID, err)
	}
	return Transition{Auction: stored, Applied: true}, nil
}

func validateNewAuction(req model.NewAuction, now time.Time) error {
	switch {
	case req.ListingID == "" || req.SellerID == "":
		return fmt.Errorf("statemachine: %w - missing listing or seller", biddingerrors.ErrInvalidAuction)
	case !validator.IsMonetary(req.StartingBid) || !validator.IsMonetary(req.BidIncrement):
		return fmt.Errorf("statemachine: %w - amounts allow at most two decimal places", biddingerrors.ErrInvalidAuction)
	case req.ReservePrice != nil && !validator.IsMonetary(*req.ReservePrice):
		return fmt.Errorf("statemachine: %w - reserve price allows at most two decimal places", biddingerrors.ErrInvalidAuction)
	case !validator.MeetsAmount(req.StartingBid, minimumStartingBid):
		return fmt.Errorf("statemachine: %w - starting bid must be at least %.2f", biddingerrors.ErrInvalidAuction, minimumStartingBid)
	case !validator.MeetsAmount(req.BidIncrement, minimumBidIncrement):
		return fmt.Errorf("statemachine: %w - bid increment must be at least %.2f", biddingerrors.ErrInvalidAuction, minimumBidIncrement)
	case req.ReservePrice != nil && *req.ReservePrice <= 0:
		return fmt.Errorf("statemachine: %w - reserve price must be positive", biddingerrors.ErrInvalidAuction)
	case !req.EndTime.After(req.StartTime):
		return fmt.Errorf("statemachine: %w - end time must be after start time", biddingerrors.ErrInvalidAuction)
	case !req.EndTime.After(now):
		return fmt.Errorf("statemachine: %w - end time must be in the future", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

// Snapshot returns the persisted state of an auction
func (m *Machine) Snapshot(ctx context.Context, auctionID string) (model.Auction, error) {
	a, err := m.db.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("statemachine: snapshot auction %s: %w", auctionID, err)
	}
	return a, nil
}

// Bids returns the ledger of an auction, oldest first
func (m *Machine) Bids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	bids, err := m.db.ReadBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("statemachine: read bids of auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// DueForStart lists scheduled auctions whose start time has been reached
func (m *Machine) DueForStart(ctx context.Context) ([]model.Auction, error) {
	due, err := m.db.ListDueForStart(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("statemachine: list auctions due for start: %w", err)
	}
	return due, nil
}

// DueForClose lists active auctions whose end time has been reached
func (m *Machine) DueForClose(ctx context.Context) ([]model.Auction, error) {
	due, err := m.db.ListDueForClose(ctx, m.now())
	if err != nil {
		return nil, fmt.Errorf("statemachine: list auctions due for close: %w", err)
	}
	return due, nil
}

// PendingOrders lists sold auctions that have no recorded order yet
func (m *Machine) PendingOrders(ctx context.Context) ([]model.Auction, error) {
	pending, err := m.db.ListPendingOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("statemachine: list pending orders: %w", err)
	}
	return pending, nil
}

// Archive flags terminal auctions that ended more than retention ago
func (m *Machine) Archive(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := m.now().Add(-retention)
	n, err := m.db.ArchiveTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("statemachine: archive auctions ended before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// PlaceBid validates a bid against the persisted snapshot and commits it
// together with its ledger entry. A scheduled auction whose start time has
// passed is activated in the same write.
func (m *Machine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount float64) (Transition, error) {
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Transition{}, fmt.Errorf("statemachine: place bid on auction %s: %w", auctionID, err)
		}

		current, err := m.db.GetAuction(ctx, auctionID)
		if err != nil {
			return Transition{}, fmt.Errorf("statemachine: place bid on auction %s: %w", auctionID, err)
		}

		now := m.now()
		next := current.Clone()

		started := false
		if next.Status == model.StatusScheduled && !now.Before(next.StartTime) {
			next.Status = model.StatusActive
			started = true
		}

		if err := validator.Validate(next, validator.Proposal{BidderID: bidderID, Amount: amount}, now); err != nil {
			return Transition{Previous: current, Auction: current}, fmt.Errorf("statemachine: bid on auction %s rejected: %w", auctionID, err)
		}

		next.CurrentBid = amount
		next.HighestBidderID = bidderID
		next.TotalBids++
		next.UpdatedAt = now

		extended := false
		if next.EndTime.Sub(now) < m.extensionWindow {
			next.EndTime = now.Add(m.extensionWindow)
			extended = true
		}

		bid := model.Bid{
			BidID:     utils.GenerateID(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			Timestamp: now,
		}

		stored, storedBid, err := m.db.CommitBid(ctx, next, current.Version, bid)
		if errors.Is(err, biddingerrors.ErrVersionConflict) {
			utils.Debug("statemachine: bid lost version race, retrying", map[string]any{
				"auction_id": auctionID,
				"attempt":    attempt,
			})
			continue
		}
		if err != nil {
			return Transition{}, fmt.Errorf("statemachine: commit bid on auction %s: %w", auctionID, err)
		}

		t := Transition{
			Previous: current,
			Auction:  stored,
			Bid:      &storedBid,
			Applied:  true,
			Extended: extended,
		}
		if started {
			t.Events = append(t.Events, startedEvent(stored, now))
		}
		t.Events = append(t.Events, bidAcceptedEvent(stored, storedBid, extended, now))
		if extended {
			t.Events = append(t.Events, newEvent(model.EventExtended, stored, model.ExtendedPayload{NewEndTime: stored.EndTime}, now))
		}
		return t, nil
	}

	return Transition{}, fmt.Errorf("statemachine: bid on auction %s after %d attempts: %w", auctionID, m.maxRetries, biddingerrors.ErrTransient)
}

// decision is what an update step wants to do with the current snapshot
type decision func(current model.Auction, now time.Time) (next model.Auction, apply bool, err error)

// update retries decide against fresh snapshots until its versioned write
// lands, decide declines, or the retry budget runs out.
func (m *Machine) update(ctx context.Context, op, auctionID string, decide decision) (Transition, time.Time, error) {
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Transition{}, time.Time{}, fmt.Errorf("statemachine: %s auction %s: %w", op, auctionID, err)
		}

		current, err := m.db.GetAuction(ctx, auctionID)
		if err != nil {
			return Transition{}, time.Time{}, fmt.Errorf("statemachine: %s auction %s: %w", op, auctionID, err)
		}

		now := m.now()
		next, apply, err := decide(current.Clone(), now)
		if err != nil {
			return Transition{Previous: current, Auction: current}, now, fmt.Errorf("statemachine: %s auction %s: %w", op, auctionID, err)
		}
		if !apply {
			return Transition{Previous: current, Auction: current}, now, nil
		}
		if !current.Status.CanTransitionTo(next.Status) && current.Status != next.Status {
			return Transition{Previous: current, Auction: current}, now, fmt.Errorf("statemachine: %s auction %s from %s to %s: %w", op, auctionID, current.Status, next.Status, biddingerrors.ErrInvalidTransition)
		}

		next.UpdatedAt = now
		stored, err := m.db.UpdateAuction(ctx, next, current.Version)
		if errors.Is(err, biddingerrors.ErrVersionConflict) {
			utils.Debug("statemachine: update lost version race, retrying", map[string]any{
				"auction_id": auctionID,
				"operation":  op,
				"attempt":    attempt,
			})
			continue
		}
		if err != nil {
			return Transition{}, now, fmt.Errorf("statemachine: %s auction %s: %w", op, auctionID, err)
		}
		return Transition{Previous: current, Auction: stored, Applied: true}, now, nil
	}

	return Transition{}, time.Time{}, fmt.Errorf("statemachine: %s auction %s after %d attempts: %w", op, auctionID, m.maxRetries, biddingerrors.ErrTransient)
}

// Activate moves a scheduled auction to active once its start time is reached.
// It is a no-op for any other state.
func (m *Machine) Activate(ctx context.Context, auctionID string) (Transition, error) {
	t, now, err := m.update(ctx, "activate", auctionID, func(a model.Auction, now time.Time) (model.Auction, bool, error) {
		if a.Status != model.StatusScheduled || now.Before(a.StartTime) {
			return a, false, nil
		}
		a.Status = model.StatusActive
		return a, true, nil
	})
	if err != nil || !t.Applied {
		return t, err
	}
	t.Events = []model.Event{startedEvent(t.Auction, now)}
	return t, nil
}

// Close settles an active auction whose end time has been reached. The
// status and time guard is evaluated on the same snapshot the versioned
// write is conditioned on, so at most one caller ever applies a closure.
func (m *Machine) Close(ctx context.Context, auctionID string) (Transition, error) {
	t, now, err := m.update(ctx, "close", auctionID, func(a model.Auction, now time.Time) (model.Auction, bool, error) {
		if a.Status != model.StatusActive || now.Before(a.EndTime) {
			return a, false, nil
		}
		a.Status = closingOutcome(a)
		a.ClosedAt = &now
		return a, true, nil
	})
	if err != nil || !t.Applied {
		return t, err
	}

	if t.Auction.Status == model.StatusSold {
		t.Order = &model.OrderRequest{
			AuctionID: t.Auction.ID,
			ListingID: t.Auction.ListingID,
			BuyerID:   t.Auction.HighestBidderID,
			SellerID:  t.Auction.SellerID,
			Amount:    t.Auction.CurrentBid,
		}
	}
	t.Events = []model.Event{ClosedEvent(t.Auction, now)}
	return t, nil
}

func closingOutcome(a model.Auction) model.AuctionStatus {
	switch {
	case a.TotalBids == 0 || a.HighestBidderID == "":
		return model.StatusUnsold
	case !validator.ReserveMet(a):
		return model.StatusReserveNotMet
	default:
		return model.StatusSold
	}
}

// Cancel ends a scheduled or active auction on behalf of its seller or an
// admin. No order is ever created for a cancelled auction.
func (m *Machine) Cancel(ctx context.Context, auctionID, requesterID string, admin bool) (Transition, error) {
	t, now, err := m.update(ctx, "cancel", auctionID, func(a model.Auction, now time.Time) (model.Auction, bool, error) {
		if !admin && requesterID != a.SellerID {
			return a, false, fmt.Errorf("%w - only the seller or an admin may cancel", biddingerrors.ErrNotPermitted)
		}
		if a.Status != model.StatusScheduled && a.Status != model.StatusActive {
			return a, false, fmt.Errorf("%w - auction is %s", biddingerrors.ErrInvalidTransition, a.Status)
		}
		a.Status = model.StatusCancelled
		a.ClosedAt = &now
		return a, true, nil
	})
	if err != nil || !t.Applied {
		return t, err
	}
	t.Events = []model.Event{ClosedEvent(t.Auction, now)}
	return t, nil
}

// RecordOrder stores the reference of the order created for a sold auction.
// Recording the same reference twice is a no-op.
func (m *Machine) RecordOrder(ctx context.Context, auctionID string, ref model.OrderRef) (Transition, error) {
	t, now, err := m.update(ctx, "record order for", auctionID, func(a model.Auction, now time.Time) (model.Auction, bool, error) {
		if a.Status != model.StatusSold {
			return a, false, fmt.Errorf("%w - auction is %s", biddingerrors.ErrInvalidTransition, a.Status)
		}
		if a.OrderRef == string(ref) {
			return a, false, nil
		}
		if a.OrderRef != "" {
			return a, false, fmt.Errorf("%w - existing order %s", biddingerrors.ErrOrderAlreadySet, a.OrderRef)
		}
		a.OrderRef = string(ref)
		return a, true, nil
	})
	if err != nil || !t.Applied {
		return t, err
	}
	t.Events = []model.Event{ClosedEvent(t.Auction, now)}
	return t, nil
}

// Reconcile recomputes the denormalized bid fields of an open auction from
// its ledger and repairs the record when they diverge.
func (m *Machine) Reconcile(ctx context.Context, auctionID string) (Transition, error) {
	bids, err := m.db.ReadBids(ctx, auctionID)
	if err != nil {
		return Transition{}, fmt.Errorf("statemachine: reconcile auction %s: %w", auctionID, err)
	}

	t, _, err := m.update(ctx, "reconcile", auctionID, func(a model.Auction, now time.Time) (model.Auction, bool, error) {
		total, current, highest := replayLedger(a, bids)
		if total == a.TotalBids && current == a.CurrentBid && highest == a.HighestBidderID {
			return a, false, nil
		}
		if a.Status.IsTerminal() {
			return a, false, fmt.Errorf("%w - settled auction diverges from its ledger", biddingerrors.ErrInvalidTransition)
		}
		utils.Warn("statemachine: auction record diverged from ledger", map[string]any{
			"auction_id":     a.ID,
			"record_total":   a.TotalBids,
			"ledger_total":   total,
			"record_current": a.CurrentBid,
			"ledger_current": current,
			"record_bidder":  a.HighestBidderID,
			"ledger_bidder":  highest,
		})
		a.TotalBids = total
		a.CurrentBid = current
		a.HighestBidderID = highest
		return a, true, nil
	})
	return t, err
}

// replayLedger derives totalBids, currentBid and highestBidderID from bids.
// Equal amounts resolve to the earliest sequence number.
func replayLedger(a model.Auction, bids []model.Bid) (int64, float64, string) {
	current, highest := a.StartingBid, ""
	var best *model.Bid
	for i := range bids {
		b := &bids[i]
		if best == nil || b.Amount > best.Amount || (b.Amount == best.Amount && b.Sequence < best.Sequence) {
			best = b
		}
	}
	if best != nil {
		current, highest = best.Amount, best.BidderID
	}
	return int64(len(bids)), current, highest
}

func newEvent(typ model.EventType, a model.Auction, data any, now time.Time) model.Event {
	return model.Event{
		Type:      typ,
		AuctionID: a.ID,
		Version:   a.Version,
		Data:      data,
		Timestamp: now,
	}
}

func startedEvent(a model.Auction, now time.Time) model.Event {
	return newEvent(model.EventStarted, a, model.StartedPayload{StartTime: a.StartTime, EndTime: a.EndTime}, now)
}

func bidAcceptedEvent(a model.Auction, bid model.Bid, extended bool, now time.Time) model.Event {
	payload := model.BidAcceptedPayload{
		Amount:    bid.Amount,
		BidderID:  bid.BidderID,
		TotalBids: a.TotalBids,
	}
	if extended {
		end := a.EndTime
		payload.NewEndTime = &end
	}
	return newEvent(model.EventBidAccepted, a, payload, now)
}

// ClosedEvent describes the terminal outcome of an auction
func ClosedEvent(a model.Auction, now time.Time) model.Event {
	payload := model.ClosedPayload{
		Outcome:  a.Status,
		OrderRef: a.OrderRef,
	}
	if a.Status == model.StatusSold {
		payload.WinnerID = a.HighestBidderID
	}
	if a.TotalBids > 0 {
		amount := a.CurrentBid
		payload.FinalAmount = &amount
	}
	return newEvent(model.EventClosed, a, payload, now)
}

// SnapshotEvent carries the full state of an auction for a joining observer
func SnapshotEvent(a model.Auction, now time.Time) model.Event {
	payload := model.SnapshotPayload{
		AuctionID:       a.ID,
		ListingID:       a.ListingID,
		SellerID:        a.SellerID,
		StartingBid:     a.StartingBid,
		BidIncrement:    a.BidIncrement,
		CurrentBid:      a.CurrentBid,
		MinimumBid:      validator.MinimumBid(a),
		HighestBidderID: a.HighestBidderID,
		TotalBids:       a.TotalBids,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Status:          a.Status,
		OrderRef:        a.OrderRef,
	}
	if a.HasReserve() {
		met := validator.ReserveMet(a)
		payload.ReserveMet = &met
	}
	return newEvent(model.EventSnapshot, a, payload, now)
}
