package notify

import (
	"context"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"tradepoint-marketplace/pkg/db/option"
	"tradepoint-marketplace/pkg/errutil"
	"tradepoint-marketplace/pkg/repository"
)

// Feed is the read side of the notification store.
type Feed struct {
	db            *gorm.DB
	notifications repository.Repository[Notification]
}

type FeedParams struct {
	fx.In
	DB *gorm.DB
}

func NewFeed(p FeedParams) *Feed {
	return &Feed{
		db:            p.DB,
		notifications: repository.ProvideStore[Notification](p.DB),
	}
}

// List returns the user's notifications, newest first. A non-zero since acts
// as a cursor: only rows created after it are returned.
func (f *Feed) List(ctx context.Context, userID string, since time.Time, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit, 0),
	}
	if !since.IsZero() {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GT,
			Value:    since,
		}))
	}

	return f.notifications.Find(ctx, &Notification{UserID: userID}, opts...)
}

// MarkRead stamps read_at on one of the caller's notifications.
func (f *Feed) MarkRead(ctx context.Context, userID, notificationID string) error {
	row, err := f.notifications.FindOne(ctx, &Notification{ID: notificationID})
	if err != nil {
		return err
	}
	if row == nil {
		return errutil.NotFound("notification not found")
	}
	if row.UserID != userID {
		return errutil.Forbidden("notification belongs to another user")
	}
	if row.ReadAt != nil {
		return nil
	}

	return f.notifications.Update(ctx, notificationID, map[string]any{
		"read_at": time.Now(),
	})
}
