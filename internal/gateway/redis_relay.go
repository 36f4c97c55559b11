package gateway

import (
	model "auction-engine/internal/models"
	"auction-engine/utils"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel shared by all engine instances
const DefaultChannel = "auction-events"

// RedisRelay publishes events through Redis so every instance delivers them
// to its own rooms. Delivery is at least once; clients order by Version.
type RedisRelay struct {
	rdb     *redis.Client
	local   *Hub
	channel string
}

// NewRedisRelay relays through channel into local
func NewRedisRelay(rdb *redis.Client, local *Hub, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{rdb: rdb, local: local, channel: channel}
}

// Broadcast publishes each event. If Redis is unreachable the event is
// delivered to local rooms only.
func (r *RedisRelay) Broadcast(ctx context.Context, events ...model.Event) {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			utils.Error("gateway: failed to encode event", map[string]any{
				"auction_id": ev.AuctionID,
				"event":      string(ev.Type),
				"error":      err.Error(),
			})
			continue
		}
		if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
			utils.Warn("gateway: redis publish failed, delivering locally", map[string]any{
				"auction_id": ev.AuctionID,
				"event":      string(ev.Type),
				"error":      err.Error(),
			})
			r.local.Broadcast(ctx, ev)
		}
	}
}

// Run subscribes to the channel and feeds received events to the local hub
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("gateway: subscribe %s: %w", r.channel, err)
	}
	utils.Info("gateway: relay subscribed", map[string]any{"channel": r.channel})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				utils.Warn("gateway: discarding malformed relay message", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			r.local.Broadcast(ctx, ev)
		}
	}
}

// DecodeEvent parses a relayed event. The payload is kept as raw JSON so it
// is re-encoded unchanged for clients.
func DecodeEvent(payload []byte) (model.Event, error) {
	var env struct {
		Type      model.EventType `json:"type"`
		AuctionID string          `json:"auctionId"`
		Version   int64           `json:"version"`
		Data      json.RawMessage `json:"data"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if env.Type == "" || env.AuctionID == "" {
		return model.Event{}, fmt.Errorf("decode event: missing type or auction id")
	}
	ev := model.Event{
		Type:      env.Type,
		AuctionID: env.AuctionID,
		Version:   env.Version,
		Timestamp: env.Timestamp,
	}
	if len(env.Data) > 0 {
		ev.Data = env.Data
	}
	return ev, nil
}
