package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/gateway"
	"auction-engine/internal/notifier"
	"auction-engine/internal/orders"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/internal/statemachine"
	"auction-engine/services/bidding/helpers"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced clock shared by the state machine
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testEnv is the full engine wired over the in-memory store
type testEnv struct {
	router  *gin.Engine
	service *bidding.BiddingService
	hub     *gateway.Hub
	clock   *testClock
	orders  *orders.MemoryCreator
}

// SetupTestEnv initializes the router with in-memory repository for integration testing.
func SetupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	repo := repository.NewMemoryRepo()
	machine := statemachine.NewMachine(repo, statemachine.Settings{
		ExtensionWindow: 2 * time.Minute,
		Now:             clock.Now,
	})
	hub := gateway.NewHub(nil)
	oc := orders.NewMemoryCreator()
	svc := bidding.NewBiddingService(machine, hub, notifier.LogNotifier{}, oc)

	return &testEnv{
		router:  server.SetupRouter(svc, hub, server.Options{AllowedOrigins: []string{"*"}}),
		service: svc,
		hub:     hub,
		clock:   clock,
		orders:  oc,
	}
}

// ExecuteRequestAndParse executes an HTTP request on the given router as
// userID (empty for anonymous) and parses the response envelope
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url, userID string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err, "failed to marshal body")
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(helpers.HeaderUserID, userID)
	}
	router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "failed to unmarshal response")
	}
	return resp, w
}

// createAuction publishes an auction through the API and returns its id
func (e *testEnv) createAuction(t *testing.T, seller string, req helpers.CreateAuctionRequest) string {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, e.router, http.MethodPost, "/auctions", seller, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return resp["data"].(map[string]any)["id"].(string)
}

func (e *testEnv) auction(t *testing.T, id string) map[string]any {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, e.router, http.MethodGet, "/auctions/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return resp["data"].(map[string]any)
}

func floatPtr(v float64) *float64 { return &v }
