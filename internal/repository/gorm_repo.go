package repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type auctionRecord struct {
	ID              string     `gorm:"primaryKey;size:36"`
	ListingID       string     `gorm:"size:64;uniqueIndex"`
	SellerID        string     `gorm:"size:64;index"`
	StartingBid     float64    `gorm:"type:decimal(20,2);not null"`
	BidIncrement    float64    `gorm:"type:decimal(20,2);not null"`
	ReservePrice    *float64   `gorm:"type:decimal(20,2)"`
	CurrentBid      float64    `gorm:"type:decimal(20,2);not null"`
	HighestBidderID string     `gorm:"size:64"`
	TotalBids       int64      `gorm:"not null;default:0"`
	StartTime       time.Time  `gorm:"index"`
	EndTime         time.Time  `gorm:"index:idx_auctions_status_end,priority:2"`
	Status          string     `gorm:"size:32;not null;index:idx_auctions_status_end,priority:1"`
	OrderRef        string     `gorm:"size:64"`
	ClosedAt        *time.Time
	Archived        bool  `gorm:"not null;default:false"`
	Version         int64 `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (auctionRecord) TableName() string { return "auctions" }

type bidRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	AuctionID string    `gorm:"size:36;not null;uniqueIndex:idx_bids_auction_seq,priority:1"`
	Sequence  int64     `gorm:"not null;uniqueIndex:idx_bids_auction_seq,priority:2"`
	BidderID  string    `gorm:"size:64;not null;index"`
	Amount    float64   `gorm:"type:decimal(20,2);not null"`
	Timestamp time.Time `gorm:"not null"`
}

func (bidRecord) TableName() string { return "auction_bids" }

func toRecord(a model.Auction) auctionRecord {
	return auctionRecord{
		ID:              a.ID,
		ListingID:       a.ListingID,
		SellerID:        a.SellerID,
		StartingBid:     a.StartingBid,
		BidIncrement:    a.BidIncrement,
		ReservePrice:    a.ReservePrice,
		CurrentBid:      a.CurrentBid,
		HighestBidderID: a.HighestBidderID,
		TotalBids:       a.TotalBids,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Status:          string(a.Status),
		OrderRef:        a.OrderRef,
		ClosedAt:        a.ClosedAt,
		Archived:        a.Archived,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func (r auctionRecord) toModel() model.Auction {
	return model.Auction{
		ID:              r.ID,
		ListingID:       r.ListingID,
		SellerID:        r.SellerID,
		StartingBid:     r.StartingBid,
		BidIncrement:    r.BidIncrement,
		ReservePrice:    r.ReservePrice,
		CurrentBid:      r.CurrentBid,
		HighestBidderID: r.HighestBidderID,
		TotalBids:       r.TotalBids,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Status:          model.AuctionStatus(r.Status),
		OrderRef:        r.OrderRef,
		ClosedAt:        r.ClosedAt,
		Archived:        r.Archived,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (r bidRecord) toModel() model.Bid {
	return model.Bid{
		BidID:     r.ID,
		AuctionID: r.AuctionID,
		BidderID:  r.BidderID,
		Amount:    r.Amount,
		Sequence:  r.Sequence,
		Timestamp: r.Timestamp,
	}
}

// mutableColumns lists what a versioned write may change. Identity and
// pricing rules are fixed at creation.
func mutableColumns(a model.Auction, nextVersion int64) map[string]any {
	return map[string]any{
		"current_bid":       a.CurrentBid,
		"highest_bidder_id": a.HighestBidderID,
		"total_bids":        a.TotalBids,
		"end_time":          a.EndTime,
		"status":            string(a.Status),
		"order_ref":         a.OrderRef,
		"closed_at":         a.ClosedAt,
		"archived":          a.Archived,
		"version":           nextVersion,
		"updated_at":        a.UpdatedAt,
	}
}

// OpenMySQL connects to MySQL and migrates the auction tables
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&auctionRecord{}, &bidRecord{}); err != nil {
		return nil, fmt.Errorf("migrate auction tables: %w", err)
	}
	return db, nil
}

// GormRepo is an AuctionDB backed by a SQL database through GORM.
// Versioned writes are UPDATE ... WHERE version = ? statements.
type GormRepo struct {
	db *gorm.DB
}

// NewGormRepo creates a repository over an opened and migrated database
func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

func (r *GormRepo) CreateAuction(ctx context.Context, auction model.Auction) (model.Auction, error) {
	auction.Version = 1
	rec := toRecord(auction)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.Auction{}, fmt.Errorf("create auction for listing %s: %w", auction.ListingID, biddingerrors.ErrAuctionExists)
		}
		return model.Auction{}, fmt.Errorf("create auction %s: %w: %v", auction.ID, biddingerrors.ErrStoreUnavailable, err)
	}
	return rec.toModel(), nil
}

func (r *GormRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	return r.getAuction(r.db.WithContext(ctx), auctionID)
}

func (r *GormRepo) getAuction(tx *gorm.DB, auctionID string) (model.Auction, error) {
	var rec auctionRecord
	if err := tx.First(&rec, "id = ?", auctionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
		}
		return model.Auction{}, fmt.Errorf("get auction %s: %w: %v", auctionID, biddingerrors.ErrStoreUnavailable, err)
	}
	return rec.toModel(), nil
}

// casUpdate performs the versioned write and tells a lost race apart from a missing row
func (r *GormRepo) casUpdate(tx *gorm.DB, auction model.Auction, expectedVersion int64) error {
	res := tx.Model(&auctionRecord{}).
		Where("id = ? AND version = ?", auction.ID, expectedVersion).
		Updates(mutableColumns(auction, expectedVersion+1))
	if res.Error != nil {
		return fmt.Errorf("update auction %s: %w: %v", auction.ID, biddingerrors.ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.getAuction(tx, auction.ID); err != nil {
			return err
		}
		return fmt.Errorf("update auction %s at version %d: %w", auction.ID, expectedVersion, biddingerrors.ErrVersionConflict)
	}
	return nil
}

func (r *GormRepo) UpdateAuction(ctx context.Context, auction model.Auction, expectedVersion int64) (model.Auction, error) {
	if err := r.casUpdate(r.db.WithContext(ctx), auction, expectedVersion); err != nil {
		return model.Auction{}, err
	}
	auction.Version = expectedVersion + 1
	return auction, nil
}

func nextSequence(tx *gorm.DB, auctionID string) (int64, error) {
	var maxSeq int64
	err := tx.Model(&bidRecord{}).
		Where("auction_id = ?", auctionID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, fmt.Errorf("read ledger sequence for auction %s: %w: %v", auctionID, biddingerrors.ErrStoreUnavailable, err)
	}
	return maxSeq + 1, nil
}

func (r *GormRepo) CommitBid(ctx context.Context, auction model.Auction, expectedVersion int64, bid model.Bid) (model.Auction, model.Bid, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the versioned UPDATE takes the row lock, serializing sequence assignment per auction
		if err := r.casUpdate(tx, auction, expectedVersion); err != nil {
			return err
		}
		seq, err := nextSequence(tx, auction.ID)
		if err != nil {
			return err
		}
		bid.AuctionID = auction.ID
		bid.Sequence = seq
		rec := bidRecord{
			ID:        bid.BidID,
			AuctionID: bid.AuctionID,
			Sequence:  bid.Sequence,
			BidderID:  bid.BidderID,
			Amount:    bid.Amount,
			Timestamp: bid.Timestamp,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("append bid %s: %w: %v", bid.BidID, biddingerrors.ErrStoreUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return model.Auction{}, model.Bid{}, err
	}
	auction.Version = expectedVersion + 1
	return auction, bid, nil
}

func (r *GormRepo) AppendBid(ctx context.Context, auctionID string, bid model.Bid) (int64, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec auctionRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", auctionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("append bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
			}
			return fmt.Errorf("append bid for auction %s: %w: %v", auctionID, biddingerrors.ErrStoreUnavailable, err)
		}
		seq, err := nextSequence(tx, auctionID)
		if err != nil {
			return err
		}
		bid.Sequence = seq
		return tx.Create(&bidRecord{
			ID:        bid.BidID,
			AuctionID: auctionID,
			Sequence:  seq,
			BidderID:  bid.BidderID,
			Amount:    bid.Amount,
			Timestamp: bid.Timestamp,
		}).Error
	})
	if err != nil {
		return 0, err
	}
	return bid.Sequence, nil
}

func (r *GormRepo) ReadBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if _, err := r.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	var recs []bidRecord
	if err := r.db.WithContext(ctx).Where("auction_id = ?", auctionID).Order("sequence ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("read bids for auction %s: %w: %v", auctionID, biddingerrors.ErrStoreUnavailable, err)
	}
	bids := make([]model.Bid, 0, len(recs))
	for _, rec := range recs {
		bids = append(bids, rec.toModel())
	}
	return bids, nil
}

func (r *GormRepo) find(ctx context.Context, order string, query string, args ...any) ([]model.Auction, error) {
	var recs []auctionRecord
	if err := r.db.WithContext(ctx).Where(query, args...).Order(order).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list auctions: %w: %v", biddingerrors.ErrStoreUnavailable, err)
	}
	out := make([]model.Auction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

func (r *GormRepo) ListDueForStart(ctx context.Context, now time.Time) ([]model.Auction, error) {
	return r.find(ctx, "start_time ASC", "status = ? AND start_time <= ?", string(model.StatusScheduled), now)
}

func (r *GormRepo) ListDueForClose(ctx context.Context, now time.Time) ([]model.Auction, error) {
	return r.find(ctx, "end_time ASC", "status = ? AND end_time <= ?", string(model.StatusActive), now)
}

func (r *GormRepo) ListPendingOrders(ctx context.Context) ([]model.Auction, error) {
	return r.find(ctx, "end_time ASC", "status = ? AND order_ref = ?", string(model.StatusSold), "")
}

func (r *GormRepo) ArchiveTerminal(ctx context.Context, endedBefore time.Time) (int64, error) {
	terminal := []string{
		string(model.StatusSold),
		string(model.StatusUnsold),
		string(model.StatusReserveNotMet),
		string(model.StatusCancelled),
	}
	res := r.db.WithContext(ctx).Model(&auctionRecord{}).
		Where("status IN ? AND archived = ? AND end_time < ?", terminal, false, endedBefore).
		Updates(map[string]any{
			"archived": true,
			"version":  gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("archive auctions: %w: %v", biddingerrors.ErrStoreUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}
