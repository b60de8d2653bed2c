package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tradepoint-marketplace/pkg/repository"
)

const TypeNotificationDispatch = "notification:dispatch"

// Task persists queued notifications into the user's feed. Push/socket
// delivery is handled by external consumers of the feed, not here.
type Task struct {
	db            *gorm.DB
	node          *snowflake.Node
	notifications repository.Repository[Notification]
}

type TaskParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewTask(p TaskParams) *Task {
	return &Task{
		db:            p.DB,
		node:          p.Node,
		notifications: repository.ProvideStore[Notification](p.DB),
	}
}

func (t *Task) HandleDispatch(ctx context.Context, task *asynq.Task) error {
	var msg Message
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	var data datatypes.JSON
	if msg.Data != nil {
		raw, err := json.Marshal(msg.Data)
		if err != nil {
			return err
		}
		data = datatypes.JSON(raw)
	}

	if err := t.notifications.Create(ctx, &Notification{
		ID:     t.node.Generate().String(),
		UserID: msg.UserID,
		Kind:   msg.Kind,
		Title:  msg.Title,
		Body:   msg.Body,
		Data:   data,
	}); err != nil {
		zap.L().Error("failed to persist notification",
			zap.String("user_id", msg.UserID),
			zap.String("kind", msg.Kind),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, task *Task) {
	mux.HandleFunc(TypeNotificationDispatch, task.HandleDispatch)
}
