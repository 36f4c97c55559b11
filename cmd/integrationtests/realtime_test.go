package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if userID != "" {
		url += "?user_id=" + userID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// nextEvent reads events until one of type want arrives, skipping presence
func nextEvent(t *testing.T, conn *websocket.Conn, want model.EventType) map[string]any {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev map[string]any
		require.NoError(t, conn.ReadJSON(&ev))
		if ev["type"] == string(model.EventPresence) && want != model.EventPresence {
			continue
		}
		require.Equal(t, string(want), ev["type"], "unexpected event %v", ev)
		return ev
	}
}

func TestRealtimeObserversFollowAuction(t *testing.T) {
	env := SetupTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	id := env.createAuction(t, "seller-1", helpers.CreateAuctionRequest{
		ListingID:   "listing-live",
		StartingBid: 100,
		EndTime:     env.clock.Now().Add(time.Hour),
	})

	watcher := dialWS(t, srv, "")
	require.NoError(t, watcher.WriteJSON(helpers.InboundMessage{Type: helpers.MessageJoin, AuctionID: id}))
	snapshot := nextEvent(t, watcher, model.EventSnapshot)
	require.Equal(t, 1.0, snapshot["version"])
	require.Equal(t, 110.0, snapshot["data"].(map[string]any)["minimumBid"])

	// a bid placed over HTTP reaches socket observers
	body, err := json.Marshal(helpers.PlaceBidRequest{Amount: 110})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/auctions/"+id+"/bids", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(helpers.HeaderUserID, "alice")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.NoError(t, res.Body.Close())

	ev := nextEvent(t, watcher, model.EventBidAccepted)
	require.Equal(t, 2.0, ev["version"])
	data := ev["data"].(map[string]any)
	require.Equal(t, 110.0, data["amount"])
	require.Equal(t, "alice", data["bidderId"])

	// a bid placed over the socket is answered on that socket and broadcast
	bidder := dialWS(t, srv, "bob")
	require.NoError(t, bidder.WriteJSON(helpers.InboundMessage{
		Type: helpers.MessagePlaceBid, AuctionID: id, Amount: 115, RequestID: "low",
	}))
	result := nextEvent(t, bidder, model.EventBidResult)
	require.Equal(t, false, result["data"].(map[string]any)["accepted"])
	require.Equal(t, 120.0, result["data"].(map[string]any)["minimumAmount"])

	require.NoError(t, bidder.WriteJSON(helpers.InboundMessage{
		Type: helpers.MessagePlaceBid, AuctionID: id, Amount: 120, RequestID: "ok",
	}))
	result = nextEvent(t, bidder, model.EventBidResult)
	require.Equal(t, true, result["data"].(map[string]any)["accepted"])

	ev = nextEvent(t, watcher, model.EventBidAccepted)
	require.Equal(t, 3.0, ev["version"])
	require.Equal(t, "bob", ev["data"].(map[string]any)["bidderId"])

	env.clock.Advance(time.Hour)
	closed, err := env.service.CloseDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	ev = nextEvent(t, watcher, model.EventClosed)
	data = ev["data"].(map[string]any)
	require.Equal(t, string(model.StatusSold), data["outcome"])
	require.Equal(t, "bob", data["winnerId"])
	require.Equal(t, 120.0, data["finalAmount"])
}
