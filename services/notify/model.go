package notify

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is one row in a user's notification feed, written by the
// dispatch task after the negotiation transaction that produced it committed.
type Notification struct {
	ID        string         `gorm:"column:id;primaryKey"`
	UserID    string         `gorm:"column:user_id;index;not null"`
	Kind      string         `gorm:"column:kind"`
	Title     string         `gorm:"column:title"`
	Body      string         `gorm:"column:body"`
	Data      datatypes.JSON `gorm:"column:data"`
	ReadAt    *time.Time     `gorm:"column:read_at"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}
