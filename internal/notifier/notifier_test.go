package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
	block chan struct{}
}

func (r *recordingNotifier) Notify(_ context.Context, _, kind string, _ any) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kinds)
}

func TestAMQPNotifier_Notify(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	n := NewAMQPNotifier(pub, "")

	err := n.Notify(context.Background(), "user1", KindOutbid, map[string]any{"auctionId": "a1", "amount": 120.0})
	require.NoError(t, err)

	require.Len(t, pub.sent, 1)
	got := pub.sent[0]
	require.Equal(t, DefaultExchange, got.exchange)
	require.Equal(t, "notify."+KindOutbid, got.key)
	require.Equal(t, "application/json", got.msg.ContentType)
	require.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	require.NotEmpty(t, got.msg.MessageId)

	var body Message
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	require.Equal(t, "user1", body.UserID)
	require.Equal(t, KindOutbid, body.Kind)
}

func TestAMQPNotifier_PublishError(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{err: errors.New("channel closed")}
	n := NewAMQPNotifier(pub, "custom")

	err := n.Notify(context.Background(), "user1", KindWon, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "custom")
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()
	require.NoError(t, LogNotifier{}.Notify(context.Background(), "user1", KindSold, nil))
}

func TestAsync_DeliversInBackground(t *testing.T) {
	t.Parallel()

	next := &recordingNotifier{}
	async := NewAsync(next, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = async.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, async.Notify(context.Background(), "user1", KindOutbid, nil))
	}

	require.Eventually(t, func() bool { return next.count() == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestAsync_DropsWhenFull(t *testing.T) {
	t.Parallel()

	next := &recordingNotifier{}
	async := NewAsync(next, 2)

	// nothing drains the queue, so the third notification is dropped
	for i := 0; i < 3; i++ {
		require.NoError(t, async.Notify(context.Background(), "user1", KindOutbid, nil))
	}
	require.Len(t, async.queue, 2)

	// cancelled context still drains what was queued
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, async.Run(ctx))
	require.Equal(t, 2, next.count())
}
