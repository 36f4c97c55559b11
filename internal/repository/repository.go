package repository

//go:generate mockgen -destination=mock_repository.go -package=repository auction-engine/internal/repository AuctionDB

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// AuctionStore is the durable keyed store of auction records.
// Every write is conditioned on the version the caller read.
type AuctionStore interface {
	CreateAuction(ctx context.Context, auction model.Auction) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	UpdateAuction(ctx context.Context, auction model.Auction, expectedVersion int64) (model.Auction, error)
	ListDueForStart(ctx context.Context, now time.Time) ([]model.Auction, error)
	ListDueForClose(ctx context.Context, now time.Time) ([]model.Auction, error)
	ListPendingOrders(ctx context.Context) ([]model.Auction, error)
	ArchiveTerminal(ctx context.Context, endedBefore time.Time) (int64, error)
}

// BidLedger is the append-only per-auction history of accepted bids
type BidLedger interface {
	AppendBid(ctx context.Context, auctionID string, bid model.Bid) (int64, error)
	ReadBids(ctx context.Context, auctionID string) ([]model.Bid, error)
}

// AuctionDB defines the storage interface for the auction engine
type AuctionDB interface {
	AuctionStore
	BidLedger

	// CommitBid writes the auction conditioned on expectedVersion and appends
	// bid to the ledger in the same atomic step. The stored bid carries its
	// server-assigned sequence number.
	CommitBid(ctx context.Context, auction model.Auction, expectedVersion int64, bid model.Bid) (model.Auction, model.Bid, error)
}

type auctionEntry struct {
	mu      sync.Mutex
	auction model.Auction
	bids    []model.Bid
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB.
// Each auction has its own lock so different auctions never contend.
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]*auctionEntry
	listings map[string]string // key: listingID -> value: auctionID
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]*auctionEntry),
		listings: make(map[string]string),
	}
}

func (r *MemoryRepo) entry(auctionID string) (*auctionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.auctions[auctionID]
	return e, ok
}

func (r *MemoryRepo) entries() []*auctionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*auctionEntry, 0, len(r.auctions))
	for _, e := range r.auctions {
		out = append(out, e)
	}
	return out
}

// CreateAuction stores a new auction at version 1
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) (model.Auction, error) {
	if auction.ID == "" {
		return model.Auction{}, fmt.Errorf("create auction: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.ID]; ok {
		return model.Auction{}, fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrAuctionExists)
	}
	if _, ok := r.listings[auction.ListingID]; ok {
		return model.Auction{}, fmt.Errorf("create auction for listing %s: %w", auction.ListingID, biddingerrors.ErrAuctionExists)
	}

	auction.Version = 1
	r.auctions[auction.ID] = &auctionEntry{auction: auction.Clone()}
	r.listings[auction.ListingID] = auction.ID
	return auction.Clone(), nil
}

// GetAuction returns the current snapshot of an auction, version included
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	e, ok := r.entry(auctionID)
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auction.Clone(), nil
}

// UpdateAuction replaces the auction record if its version still equals expectedVersion
func (r *MemoryRepo) UpdateAuction(_ context.Context, auction model.Auction, expectedVersion int64) (model.Auction, error) {
	e, ok := r.entry(auction.ID)
	if !ok {
		return model.Auction{}, fmt.Errorf("update auction %s: %w", auction.ID, biddingerrors.ErrAuctionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.auction.Version != expectedVersion {
		return model.Auction{}, fmt.Errorf("update auction %s at version %d: %w", auction.ID, expectedVersion, biddingerrors.ErrVersionConflict)
	}
	auction.Version = expectedVersion + 1
	e.auction = auction.Clone()
	return auction.Clone(), nil
}

// CommitBid applies the conditional auction write and the ledger append under one lock
func (r *MemoryRepo) CommitBid(_ context.Context, auction model.Auction, expectedVersion int64, bid model.Bid) (model.Auction, model.Bid, error) {
	e, ok := r.entry(auction.ID)
	if !ok {
		return model.Auction{}, model.Bid{}, fmt.Errorf("commit bid for auction %s: %w", auction.ID, biddingerrors.ErrAuctionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.auction.Version != expectedVersion {
		return model.Auction{}, model.Bid{}, fmt.Errorf("commit bid for auction %s at version %d: %w", auction.ID, expectedVersion, biddingerrors.ErrVersionConflict)
	}

	bid.AuctionID = auction.ID
	bid.Sequence = int64(len(e.bids)) + 1
	e.bids = append(e.bids, bid)

	auction.Version = expectedVersion + 1
	e.auction = auction.Clone()
	return auction.Clone(), bid, nil
}

// AppendBid appends a bid to the ledger without touching the auction record
func (r *MemoryRepo) AppendBid(_ context.Context, auctionID string, bid model.Bid) (int64, error) {
	e, ok := r.entry(auctionID)
	if !ok {
		return 0, fmt.Errorf("append bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	bid.AuctionID = auctionID
	bid.Sequence = int64(len(e.bids)) + 1
	e.bids = append(e.bids, bid)
	return bid.Sequence, nil
}

// ReadBids returns a copy of the ledger, oldest first
func (r *MemoryRepo) ReadBids(_ context.Context, auctionID string) ([]model.Bid, error) {
	e, ok := r.entry(auctionID)
	if !ok {
		return nil, fmt.Errorf("read bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Bid{}, e.bids...), nil
}

func (r *MemoryRepo) list(match func(model.Auction) bool) []model.Auction {
	var out []model.Auction
	for _, e := range r.entries() {
		e.mu.Lock()
		if match(e.auction) {
			out = append(out, e.auction.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out
}

// ListDueForStart returns scheduled auctions whose start time has been reached
func (r *MemoryRepo) ListDueForStart(_ context.Context, now time.Time) ([]model.Auction, error) {
	return r.list(func(a model.Auction) bool {
		return a.Status == model.StatusScheduled && !a.StartTime.After(now)
	}), nil
}

// ListDueForClose returns active auctions whose end time has been reached
func (r *MemoryRepo) ListDueForClose(_ context.Context, now time.Time) ([]model.Auction, error) {
	return r.list(func(a model.Auction) bool {
		return a.Status == model.StatusActive && !a.EndTime.After(now)
	}), nil
}

// ListPendingOrders returns sold auctions whose order has not been acknowledged yet
func (r *MemoryRepo) ListPendingOrders(_ context.Context) ([]model.Auction, error) {
	return r.list(func(a model.Auction) bool {
		return a.Status == model.StatusSold && a.OrderRef == ""
	}), nil
}

// ArchiveTerminal flags terminal auctions that ended before endedBefore
func (r *MemoryRepo) ArchiveTerminal(_ context.Context, endedBefore time.Time) (int64, error) {
	var archived int64
	for _, e := range r.entries() {
		e.mu.Lock()
		a := &e.auction
		if a.Status.IsTerminal() && !a.Archived && a.EndTime.Before(endedBefore) {
			a.Archived = true
			a.Version++
			archived++
		}
		e.mu.Unlock()
	}
	return archived, nil
}

// SeedAuction inserts an auction as-is, keeping its status and bids fields.
// This method is intended for tests only.
func (r *MemoryRepo) SeedAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if auction.Version == 0 {
		auction.Version = 1
	}
	r.auctions[auction.ID] = &auctionEntry{auction: auction.Clone()}
	r.listings[auction.ListingID] = auction.ID
}
