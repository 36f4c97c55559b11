package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"auction-engine/internal/gateway"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const messageTimeout = 5 * time.Second

// Rooms is the part of the gateway hub the realtime handler drives
type Rooms interface {
	Join(member gateway.Member, auctionID string, snapshot func() (model.Event, error)) error
	Leave(memberID, auctionID string)
	LeaveAll(memberID string)
}

type RealtimeHandler struct {
	service  BiddingServiceInterface
	rooms    Rooms
	upgrader websocket.Upgrader
}

// NewRealtimeHandler accepts websocket upgrades from allowedOrigins, where
// "*" allows any origin.
func NewRealtimeHandler(service BiddingServiceInterface, rooms Rooms, allowedOrigins []string) *RealtimeHandler {
	return &RealtimeHandler{
		service: service,
		rooms:   rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	origins := make(map[string]struct{})
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if _, wildcard := origins["*"]; wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := origins[origin]
		return ok
	}
}

// ServeWS handles GET /ws. The caller identity comes from the X-User-ID
// header or, for browsers that cannot set headers, the user_id query param.
// Anonymous connections may observe but not bid.
func (h *RealtimeHandler) ServeWS(c *gin.Context) {
	userID, _ := helpers.CurrentUser(c)
	if userID == "" {
		userID = strings.TrimSpace(c.Query("user_id"))
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.Warn("ServeWS: upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	client := gateway.NewClient(conn, userID)
	utils.Info("ServeWS: connection opened", map[string]any{
		"client_id": client.ID(),
		"user_id":   userID,
	})

	go client.WritePump()
	client.ReadPump(func(raw []byte) {
		h.handleMessage(client, raw)
	})

	h.rooms.LeaveAll(client.ID())
	utils.Info("ServeWS: connection closed", map[string]any{"client_id": client.ID()})
}

func (h *RealtimeHandler) handleMessage(client *gateway.Client, raw []byte) {
	var msg helpers.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.replyError(client, "", "", "malformed message")
		return
	}
	if msg.AuctionID == "" {
		h.replyError(client, msg.AuctionID, msg.RequestID, "auctionId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	switch msg.Type {
	case helpers.MessageJoin:
		err := h.rooms.Join(client, msg.AuctionID, func() (model.Event, error) {
			return h.service.JoinSnapshot(ctx, msg.AuctionID)
		})
		if err != nil {
			if errors.Is(err, gateway.ErrMemberClosed) {
				return
			}
			_, message := helpers.MapErrorToHTTP(err)
			h.replyError(client, msg.AuctionID, msg.RequestID, message)
			utils.Warn("ServeWS: join failed", map[string]any{
				"client_id":  client.ID(),
				"auction_id": msg.AuctionID,
				"error":      err.Error(),
			})
		}

	case helpers.MessageLeave:
		h.rooms.Leave(client.ID(), msg.AuctionID)

	case helpers.MessagePlaceBid:
		h.placeBid(ctx, client, msg)

	default:
		h.replyError(client, msg.AuctionID, msg.RequestID, "unknown message type "+msg.Type)
	}
}

func (h *RealtimeHandler) placeBid(ctx context.Context, client *gateway.Client, msg helpers.InboundMessage) {
	payload := helpers.BidResultPayload{RequestID: msg.RequestID}
	if client.UserID() == "" {
		payload.Reason = "unauthenticated"
		payload.Message = "user identity required"
		h.reply(client, msg.AuctionID, 0, payload)
		return
	}

	result, err := h.service.PlaceBid(ctx, msg.AuctionID, client.UserID(), msg.Amount)
	if err != nil {
		_, message := helpers.MapErrorToHTTP(err)
		payload.Message = message
		if details, ok := helpers.RejectionFromError(err); ok {
			payload.Reason = details.Reason
			payload.MinimumAmount = details.MinimumAmount
		}
		h.reply(client, msg.AuctionID, 0, payload)
		utils.Debug("ServeWS: bid refused", map[string]any{
			"client_id":  client.ID(),
			"auction_id": msg.AuctionID,
			"user_id":    client.UserID(),
			"error":      err.Error(),
		})
		return
	}

	bid := helpers.ToBidResponse(result.Bid)
	payload.Accepted = true
	payload.Bid = &bid
	h.reply(client, msg.AuctionID, result.Auction.Version, payload)
}

func (h *RealtimeHandler) reply(client *gateway.Client, auctionID string, version int64, payload helpers.BidResultPayload) {
	client.Send(model.Event{
		Type:      model.EventBidResult,
		AuctionID: auctionID,
		Version:   version,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	})
}

func (h *RealtimeHandler) replyError(client *gateway.Client, auctionID, requestID, message string) {
	client.Send(model.Event{
		Type:      model.EventError,
		AuctionID: auctionID,
		Data:      helpers.ErrorPayload{RequestID: requestID, Message: message},
		Timestamp: time.Now().UTC(),
	})
}
