package validator

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func activeAuction(now time.Time) model.Auction {
	return model.Auction{
		ID:           "auction1",
		ListingID:    "listing1",
		SellerID:     "seller1",
		StartingBid:  100,
		BidIncrement: 10,
		CurrentBid:   100,
		StartTime:    now.Add(-time.Hour),
		EndTime:      now.Add(time.Hour),
		Status:       model.StatusActive,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		mutate      func(a *model.Auction)
		proposal    Proposal
		expectedErr error
		expectedMin float64
	}{
		{
			name:     "accepted_at_minimum",
			mutate:   func(a *model.Auction) {},
			proposal: Proposal{BidderID: "bidder1", Amount: 110},
		},
		{
			name:     "accepted_above_minimum",
			mutate:   func(a *model.Auction) {},
			proposal: Proposal{BidderID: "bidder1", Amount: 500},
		},
		{
			name:        "scheduled_not_active",
			mutate:      func(a *model.Auction) { a.Status = model.StatusScheduled },
			proposal:    Proposal{BidderID: "bidder1", Amount: 500},
			expectedErr: biddingerrors.ErrAuctionNotActive,
		},
		{
			name:        "sold_not_active",
			mutate:      func(a *model.Auction) { a.Status = model.StatusSold },
			proposal:    Proposal{BidderID: "bidder1", Amount: 500},
			expectedErr: biddingerrors.ErrAuctionNotActive,
		},
		{
			name:        "unsold_reports_ended",
			mutate:      func(a *model.Auction) { a.Status = model.StatusUnsold },
			proposal:    Proposal{BidderID: "bidder1", Amount: 500},
			expectedErr: biddingerrors.ErrAuctionEnded,
		},
		{
			name:        "status_checked_before_amount",
			mutate:      func(a *model.Auction) { a.Status = model.StatusCancelled },
			proposal:    Proposal{BidderID: "seller1", Amount: 1},
			expectedErr: biddingerrors.ErrAuctionNotActive,
		},
		{
			name:        "end_time_reached",
			mutate:      func(a *model.Auction) { a.EndTime = now },
			proposal:    Proposal{BidderID: "bidder1", Amount: 500},
			expectedErr: biddingerrors.ErrAuctionEnded,
		},
		{
			name:        "end_time_passed",
			mutate:      func(a *model.Auction) { a.EndTime = now.Add(-time.Second) },
			proposal:    Proposal{BidderID: "bidder1", Amount: 500},
			expectedErr: biddingerrors.ErrAuctionEnded,
		},
		{
			name:        "below_increment",
			mutate:      func(a *model.Auction) {},
			proposal:    Proposal{BidderID: "bidder1", Amount: 105},
			expectedErr: biddingerrors.ErrBidTooLow,
			expectedMin: 110,
		},
		{
			name:        "equal_to_current",
			mutate:      func(a *model.Auction) { a.CurrentBid = 140 },
			proposal:    Proposal{BidderID: "bidder1", Amount: 140},
			expectedErr: biddingerrors.ErrBidTooLow,
			expectedMin: 150,
		},
		{
			name:        "amount_checked_before_seller",
			mutate:      func(a *model.Auction) {},
			proposal:    Proposal{BidderID: "seller1", Amount: 101},
			expectedErr: biddingerrors.ErrBidTooLow,
			expectedMin: 110,
		},
		{
			name:        "seller_self_bid",
			mutate:      func(a *model.Auction) {},
			proposal:    Proposal{BidderID: "seller1", Amount: 200},
			expectedErr: biddingerrors.ErrSellerCannotBid,
		},
		{
			name:        "sub_cent_below_minimum",
			mutate:      func(a *model.Auction) {},
			proposal:    Proposal{BidderID: "bidder1", Amount: 109.996},
			expectedErr: biddingerrors.ErrInvalidBid,
		},
		{
			name:        "sub_cent_above_minimum",
			mutate:      func(a *model.Auction) {},
			proposal:    Proposal{BidderID: "bidder1", Amount: 110.005},
			expectedErr: biddingerrors.ErrInvalidBid,
		},
		{
			name:        "zero_amount",
			mutate:      func(a *model.Auction) {},
			proposal:    Proposal{BidderID: "bidder1", Amount: 0},
			expectedErr: biddingerrors.ErrInvalidBid,
		},
		{
			name:        "zero_amount_after_end",
			mutate:      func(a *model.Auction) { a.EndTime = now.Add(-time.Minute) },
			proposal:    Proposal{BidderID: "bidder1", Amount: 0},
			expectedErr: biddingerrors.ErrAuctionEnded,
		},
		{
			name:        "negative_amount_on_settled",
			mutate:      func(a *model.Auction) { a.Status = model.StatusSold },
			proposal:    Proposal{BidderID: "bidder1", Amount: -5},
			expectedErr: biddingerrors.ErrAuctionEnded,
		},
		{
			name:        "nan_amount",
			mutate:      func(a *model.Auction) {},
			proposal:    Proposal{BidderID: "bidder1", Amount: math.NaN()},
			expectedErr: biddingerrors.ErrInvalidBid,
		},
		{
			name:     "fractional_increment",
			mutate:   func(a *model.Auction) { a.CurrentBid = 0.1; a.BidIncrement = 0.2 },
			proposal: Proposal{BidderID: "bidder1", Amount: 0.3},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := activeAuction(now)
			tc.mutate(&a)

			err := Validate(a, tc.proposal, now)
			if tc.expectedErr == nil {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			require.True(t, errors.Is(err, tc.expectedErr), "expected error: %v, got: %v", tc.expectedErr, err)

			var rejection *biddingerrors.BidRejection
			require.True(t, errors.As(err, &rejection))
			if tc.expectedMin != 0 {
				require.Equal(t, tc.expectedMin, rejection.MinimumAmount)
				require.Contains(t, err.Error(), "minimum acceptable bid")
			}
		})
	}
}

func TestValidate_IsPure(t *testing.T) {
	now := time.Now().UTC()
	a := activeAuction(now)
	before := a.Clone()

	_ = Validate(a, Proposal{BidderID: "bidder1", Amount: 110}, now)
	_ = Validate(a, Proposal{BidderID: "bidder1", Amount: 1}, now)

	require.Equal(t, before, a)
}

func TestReserveMet(t *testing.T) {
	reserve := 150.0
	a := model.Auction{CurrentBid: 140, ReservePrice: &reserve}
	require.False(t, ReserveMet(a))

	a.CurrentBid = 149.99
	require.False(t, ReserveMet(a))

	// a sub-cent shortfall is still a miss
	a.CurrentBid = 149.996
	require.False(t, ReserveMet(a))

	a.CurrentBid = 150
	require.True(t, ReserveMet(a))

	a.ReservePrice = nil
	require.True(t, ReserveMet(a))
}

func TestMinimumBid(t *testing.T) {
	require.Equal(t, 120.0, MinimumBid(model.Auction{CurrentBid: 110, BidIncrement: 10}))
	require.Equal(t, 0.3, MinimumBid(model.Auction{CurrentBid: 0.1, BidIncrement: 0.2}))
}

func TestIsMonetary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		amount   float64
		expected bool
	}{
		{name: "whole", amount: 120, expected: true},
		{name: "one_place", amount: 0.1, expected: true},
		{name: "two_places", amount: 119.99, expected: true},
		{name: "three_places", amount: 119.996, expected: false},
		{name: "half_cent", amount: 129.995, expected: false},
		{name: "negative_cents", amount: -3.25, expected: true},
		{name: "nan", amount: math.NaN(), expected: false},
		{name: "infinite", amount: math.Inf(1), expected: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, IsMonetary(tc.amount))
		})
	}
}

func TestMeetsAmount_DoesNotRound(t *testing.T) {
	require.False(t, MeetsAmount(119.996, 120))
	require.False(t, MeetsAmount(129.995, 129.996))
	require.True(t, MeetsAmount(120, 120))
	require.True(t, MeetsAmount(120.01, 120))
}
