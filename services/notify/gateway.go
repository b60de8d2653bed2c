package notify

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Message is one user-facing event produced by a negotiation operation.
type Message struct {
	UserID string         `json:"user_id"`
	Kind   string         `json:"kind"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
}

// Gateway is the fire-and-forget dispatch boundary. Engines call it strictly
// after commit; a failure here must never unwind a committed negotiation.
type Gateway interface {
	Notify(ctx context.Context, msg Message) error
}

// Dispatch fans a batch of messages out through the gateway. Errors are
// logged and dropped, honouring the best-effort contract.
func Dispatch(ctx context.Context, gw Gateway, msgs []Message) {
	if gw == nil || len(msgs) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, msg := range msgs {
		g.Go(func() error {
			if err := gw.Notify(ctx, msg); err != nil {
				zap.L().Warn("notification dispatch failed",
					zap.String("user_id", msg.UserID),
					zap.String("kind", msg.Kind),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// AsynqGateway queues messages onto the notification task queue; the task
// handler persists and delivers them outside the request path.
type AsynqGateway struct {
	client *asynq.Client
}

func NewAsynqGateway(client *asynq.Client) *AsynqGateway {
	return &AsynqGateway{client: client}
}

func (g *AsynqGateway) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = g.client.EnqueueContext(ctx, asynq.NewTask(TypeNotificationDispatch, payload))
	return err
}

// NopGateway discards everything; used in tests.
type NopGateway struct{}

func (NopGateway) Notify(context.Context, Message) error { return nil }
