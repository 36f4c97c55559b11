package integrationtests

import (
	"context"
	"net/http"
	"testing"
	"time"

	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"

	"github.com/stretchr/testify/require"
)

func placeBid(t *testing.T, env *testEnv, auctionID, bidder string, amount float64) (map[string]any, int) {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+auctionID+"/bids", bidder,
		helpers.PlaceBidRequest{Amount: amount})
	return resp, w.Code
}

// Full lifecycle: bids, rejections, anti-sniping extension, closure and order
func TestAuctionLifecycle(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	id := env.createAuction(t, "seller-1", helpers.CreateAuctionRequest{
		ListingID:    "listing-lifecycle",
		StartingBid:  100,
		ReservePrice: floatPtr(150),
		EndTime:      env.clock.Now().Add(time.Hour),
	})

	a := env.auction(t, id)
	require.Equal(t, string(model.StatusActive), a["status"])
	require.Equal(t, 110.0, a["minimum_bid"])
	require.Equal(t, true, a["has_reserve"])
	require.Equal(t, false, a["reserve_met"])
	require.NotContains(t, a, "reserve_price")

	resp, code := placeBid(t, env, id, "alice", 110)
	require.Equal(t, http.StatusCreated, code)
	bid := resp["data"].(map[string]any)["bid"].(map[string]any)
	require.Equal(t, 1.0, bid["sequence"])
	_, err := time.Parse(time.RFC3339, bid["created_at"].(string))
	require.NoError(t, err)

	resp, code = placeBid(t, env, id, "bob", 115)
	require.Equal(t, http.StatusConflict, code)
	details := resp["details"].(map[string]any)
	require.Equal(t, "bid_too_low", details["reason"])
	require.Equal(t, 120.0, details["minimum_amount"])

	_, code = placeBid(t, env, id, "seller-1", 500)
	require.Equal(t, http.StatusForbidden, code)

	_, code = placeBid(t, env, id, "", 500)
	require.Equal(t, http.StatusUnauthorized, code)

	_, code = placeBid(t, env, id, "bob", 130)
	require.Equal(t, http.StatusCreated, code)

	resp, w := ExecuteRequestAndParse(t, env.router, http.MethodGet, "/auctions/"+id+"/bids", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	bids := resp["data"].([]any)
	require.Len(t, bids, 2)
	require.Equal(t, "alice", bids[0].(map[string]any)["bidder_id"])
	require.Equal(t, 2.0, bids[1].(map[string]any)["sequence"])

	a = env.auction(t, id)
	require.Equal(t, 130.0, a["current_bid"])
	require.Equal(t, "bob", a["highest_bidder_id"])
	require.Equal(t, 2.0, a["total_bids"])

	// a bid inside the last two minutes pushes the end out
	env.clock.Advance(59*time.Minute + 30*time.Second)
	resp, code = placeBid(t, env, id, "alice", 160)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, true, resp["data"].(map[string]any)["extended"])
	a = env.auction(t, id)
	require.Equal(t, env.clock.Now().Add(2*time.Minute).Format(time.RFC3339), a["end_time"])
	require.Equal(t, true, a["reserve_met"])

	// not yet due
	closed, err := env.service.CloseDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, closed)

	env.clock.Advance(2 * time.Minute)
	closed, err = env.service.CloseDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	a = env.auction(t, id)
	require.Equal(t, string(model.StatusSold), a["status"])
	require.Equal(t, "alice", a["highest_bidder_id"])
	require.NotEmpty(t, a["order_ref"])
	require.Equal(t, 1, env.orders.Orders())

	resp, code = placeBid(t, env, id, "bob", 1000)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "auction has ended", resp["message"])
	require.Equal(t, "auction_ended", resp["details"].(map[string]any)["reason"])

	// closing again is a no-op and creates no second order
	closed, err = env.service.CloseDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, closed)
	require.Equal(t, 1, env.orders.Orders())
}

func TestCreateAuctionValidation(t *testing.T) {
	env := SetupTestEnv(t)
	env.createAuction(t, "seller-1", helpers.CreateAuctionRequest{
		ListingID:   "listing-taken",
		StartingBid: 100,
		EndTime:     env.clock.Now().Add(time.Hour),
	})

	tests := []struct {
		name       string
		userID     string
		request    any
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "Invalid_JSON",
			userID:     "seller-1",
			request:    []byte(`{listing_id: 'missing quotes'}`),
			wantStatus: http.StatusBadRequest,
			wantMsg:    "invalid request payload",
		},
		{
			name:       "Missing_Identity",
			request:    helpers.CreateAuctionRequest{ListingID: "l1", StartingBid: 100, EndTime: env.clock.Now().Add(time.Hour)},
			wantStatus: http.StatusUnauthorized,
			wantMsg:    "user identity required",
		},
		{
			name:       "End_In_Past",
			userID:     "seller-1",
			request:    helpers.CreateAuctionRequest{ListingID: "l2", StartingBid: 100, EndTime: env.clock.Now().Add(-time.Minute)},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "invalid auction details",
		},
		{
			name:       "Starting_Bid_Below_One",
			userID:     "seller-1",
			request:    helpers.CreateAuctionRequest{ListingID: "l3", StartingBid: 0.5, EndTime: env.clock.Now().Add(time.Hour)},
			wantStatus: http.StatusBadRequest,
			wantMsg:    "invalid auction details",
		},
		{
			name:       "Duplicate_Listing",
			userID:     "seller-2",
			request:    helpers.CreateAuctionRequest{ListingID: "listing-taken", StartingBid: 100, EndTime: env.clock.Now().Add(time.Hour)},
			wantStatus: http.StatusConflict,
			wantMsg:    "auction already exists for listing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions", tt.userID, tt.request)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			require.Equal(t, tt.wantMsg, resp["message"])
		})
	}
}

func TestScheduledAuctionActivation(t *testing.T) {
	env := SetupTestEnv(t)
	start := env.clock.Now().Add(10 * time.Minute)
	id := env.createAuction(t, "seller-1", helpers.CreateAuctionRequest{
		ListingID:   "listing-scheduled",
		StartingBid: 50,
		StartTime:   &start,
		EndTime:     start.Add(time.Hour),
	})
	require.Equal(t, string(model.StatusScheduled), env.auction(t, id)["status"])

	resp, code := placeBid(t, env, id, "alice", 60)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "auction is not active", resp["message"])

	env.clock.Advance(11 * time.Minute)
	started, err := env.service.ActivateDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, started)
	require.Equal(t, string(model.StatusActive), env.auction(t, id)["status"])

	_, code = placeBid(t, env, id, "alice", 60)
	require.Equal(t, http.StatusCreated, code)
}

func TestClosureOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		reserve    *float64
		bids       []float64
		wantStatus model.AuctionStatus
		wantOrders int
	}{
		{name: "Unsold_No_Bids", wantStatus: model.StatusUnsold},
		{name: "Reserve_Not_Met", reserve: floatPtr(500), bids: []float64{110, 120}, wantStatus: model.StatusReserveNotMet},
		{name: "Sold_Reserve_Met", reserve: floatPtr(115), bids: []float64{110, 120}, wantStatus: model.StatusSold, wantOrders: 1},
		{name: "Sold_No_Reserve", bids: []float64{110}, wantStatus: model.StatusSold, wantOrders: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := SetupTestEnv(t)
			id := env.createAuction(t, "seller-1", helpers.CreateAuctionRequest{
				ListingID:    "listing-" + tt.name,
				StartingBid:  100,
				ReservePrice: tt.reserve,
				EndTime:      env.clock.Now().Add(time.Hour),
			})
			for i, amount := range tt.bids {
				bidder := "alice"
				if i%2 == 1 {
					bidder = "bob"
				}
				_, code := placeBid(t, env, id, bidder, amount)
				require.Equal(t, http.StatusCreated, code)
			}

			env.clock.Advance(time.Hour)
			closed, err := env.service.CloseDue(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, closed)

			a := env.auction(t, id)
			require.Equal(t, string(tt.wantStatus), a["status"])
			require.Equal(t, tt.wantOrders, env.orders.Orders())
		})
	}
}

func TestCancelAuction(t *testing.T) {
	env := SetupTestEnv(t)
	id := env.createAuction(t, "seller-1", helpers.CreateAuctionRequest{
		ListingID:   "listing-cancel",
		StartingBid: 100,
		EndTime:     env.clock.Now().Add(time.Hour),
	})
	_, code := placeBid(t, env, id, "alice", 110)
	require.Equal(t, http.StatusCreated, code)

	_, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+id+"/cancel", "alice", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	resp, w := ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+id+"/cancel", "seller-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(model.StatusCancelled), resp["data"].(map[string]any)["status"])

	resp, code = placeBid(t, env, id, "bob", 500)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "auction is not active", resp["message"])

	_, w = ExecuteRequestAndParse(t, env.router, http.MethodPost, "/auctions/"+id+"/cancel", "seller-1", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	env.clock.Advance(2 * time.Hour)
	closed, err := env.service.CloseDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, closed)
	require.Equal(t, 0, env.orders.Orders())
}

func TestUnknownAuction(t *testing.T) {
	env := SetupTestEnv(t)

	resp, w := ExecuteRequestAndParse(t, env.router, http.MethodGet, "/auctions/0d3c1a52-8a4e-4b7a-9a38-1d7b8a0f6e11", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "auction not found", resp["message"])

	_, w = ExecuteRequestAndParse(t, env.router, http.MethodGet, "/auctions/nope", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
