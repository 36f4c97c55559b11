// Package orders adapts the order-creation collaborator. Calls are
// idempotent by auction ID, so a retried settlement never creates a second
// order.
package orders

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/utils"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 10 * time.Second

// HTTPCreator posts sold auctions to the order service
type HTTPCreator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCreator(baseURL string, client *http.Client) *HTTPCreator {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPCreator{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	ID      string `json:"id"`
}

// CreateOrder sends POST {baseURL}/orders with Idempotency-Key set to the
// auction ID. A 409 means the order already exists and its reference is
// returned as for a fresh creation.
func (h *HTTPCreator) CreateOrder(ctx context.Context, req model.OrderRequest) (model.OrderRef, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("orders: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("orders: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.AuctionID)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("orders: %w: %v", biddingerrors.ErrOrderServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("orders: %w: status %d: %s", biddingerrors.ErrOrderServiceUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("orders: decode response: %w", err)
	}
	ref := out.OrderID
	if ref == "" {
		ref = out.ID
	}
	if ref == "" {
		return "", fmt.Errorf("orders: %w: response carried no order id", biddingerrors.ErrOrderServiceUnavailable)
	}
	return model.OrderRef(ref), nil
}

// MemoryCreator records orders in process. It backs local runs and tests.
type MemoryCreator struct {
	mu     sync.Mutex
	orders map[string]model.OrderRef // key: auctionID
	calls  int
}

func NewMemoryCreator() *MemoryCreator {
	return &MemoryCreator{orders: make(map[string]model.OrderRef)}
}

func (m *MemoryCreator) CreateOrder(_ context.Context, req model.OrderRequest) (model.OrderRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if ref, ok := m.orders[req.AuctionID]; ok {
		return ref, nil
	}
	ref := model.OrderRef("order-" + utils.GenerateID())
	m.orders[req.AuctionID] = ref
	utils.Info("orders: created order", map[string]any{
		"auction_id": req.AuctionID,
		"buyer_id":   req.BuyerID,
		"amount":     req.Amount,
		"order_ref":  string(ref),
	})
	return ref, nil
}

// Orders returns the number of distinct orders created
func (m *MemoryCreator) Orders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Calls returns how many times CreateOrder was invoked
func (m *MemoryCreator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
