package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradepoint-marketplace/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestTask(t *testing.T) *Task {
	t.Helper()

	db := testutil.NewTestDB(t, &Notification{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewTask(TaskParams{DB: db, Node: node})
}

func TestHandleDispatchPersistsNotification(t *testing.T) {
	task := newTestTask(t)

	payload, err := json.Marshal(Message{
		UserID: "cust-1",
		Kind:   "case_accepted",
		Title:  "Your case was accepted",
		Body:   "The provider accepted your case.",
		Data:   map[string]any{"case_id": "case-1"},
	})
	require.NoError(t, err)

	err = task.HandleDispatch(context.Background(), asynq.NewTask(TypeNotificationDispatch, payload))
	require.NoError(t, err)

	row, err := task.notifications.FindOne(context.Background(), &Notification{UserID: "cust-1"})
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "case_accepted", row.Kind)
	require.Nil(t, row.ReadAt)
	require.JSONEq(t, `{"case_id":"case-1"}`, string(row.Data))
}

func TestHandleDispatchRejectsBadPayload(t *testing.T) {
	task := newTestTask(t)

	err := task.HandleDispatch(context.Background(), asynq.NewTask(TypeNotificationDispatch, []byte("{not json")))
	require.Error(t, err)
}

func TestFeedListAndMarkRead(t *testing.T) {
	db := testutil.NewTestDB(t, &Notification{})
	feed := NewFeed(FeedParams{DB: db})
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"n-1", "n-2", "n-3"} {
		require.NoError(t, db.Create(&Notification{
			ID:        id,
			UserID:    "cust-1",
			Kind:      "new_bid",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
	require.NoError(t, db.Create(&Notification{ID: "n-other", UserID: "cust-2"}).Error)

	rows, err := feed.List(ctx, "cust-1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "n-3", rows[0].ID)

	rows, err = feed.List(ctx, "cust-1", base.Add(30*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, feed.MarkRead(ctx, "cust-1", "n-1"))
	row, err := feed.notifications.FindOne(ctx, &Notification{ID: "n-1"})
	require.NoError(t, err)
	require.NotNil(t, row.ReadAt)

	err = feed.MarkRead(ctx, "cust-1", "n-other")
	require.Error(t, err)
	err = feed.MarkRead(ctx, "cust-1", "missing")
	require.Error(t, err)
}

type failingGateway struct{ calls atomic.Int32 }

func (g *failingGateway) Notify(context.Context, Message) error {
	g.calls.Add(1)
	return errors.New("queue unavailable")
}

func TestDispatchSwallowsGatewayErrors(t *testing.T) {
	gw := &failingGateway{}

	Dispatch(context.Background(), gw, []Message{
		{UserID: "a", Kind: "x"},
		{UserID: "b", Kind: "y"},
	})

	require.Equal(t, int32(2), gw.calls.Load())
}
