package notifier

import (
	"auction-engine/utils"
	"context"
	"time"
)

const (
	defaultQueueSize = 256
	deliveryTimeout  = 5 * time.Second
)

type job struct {
	userID  string
	kind    string
	payload any
}

// Async decouples callers from the wrapped notifier. Notify never blocks;
// when the queue is full the notification is dropped and logged.
type Async struct {
	next  Notifier
	queue chan job
}

func NewAsync(next Notifier, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Async{next: next, queue: make(chan job, queueSize)}
}

func (a *Async) Notify(_ context.Context, userID, kind string, payload any) error {
	select {
	case a.queue <- job{userID: userID, kind: kind, payload: payload}:
	default:
		utils.Warn("notifier: queue full, dropping notification", map[string]any{
			"user_id": userID,
			"kind":    kind,
		})
	}
	return nil
}

// Run delivers queued notifications until ctx is cancelled, then drains
// what is already queued.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case j := <-a.queue:
			a.deliver(j)
		case <-ctx.Done():
			for {
				select {
				case j := <-a.queue:
					a.deliver(j)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Async) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := a.next.Notify(ctx, j.userID, j.kind, j.payload); err != nil {
		utils.Warn("notifier: delivery failed", map[string]any{
			"user_id": j.userID,
			"kind":    j.kind,
			"error":   err.Error(),
		})
	}
}
