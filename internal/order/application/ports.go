package application

import (
	"context"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/order/domain"
)

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order) (domain.Order, error)
	Get(ctx context.Context, id int64) (domain.Order, error)
	GetByMerchantUID(ctx context.Context, merchantUID string) (domain.Order, error)
	// Save persists o if its version is unchanged and returns it with the bumped version.
	// It fails with domain.ErrConcurrentModification otherwise.
	Save(ctx context.Context, o domain.Order) (domain.Order, error)
	// SaveWithOutbox is Save plus an outbox row for ev in the same transaction.
	SaveWithOutbox(ctx context.Context, o domain.Order, ev events.Event) (domain.Order, error)
}

type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceStore    Audience = "store"
)

type Notification struct {
	Audience    Audience `json:"audience"`
	OrderID     int64    `json:"orderId"`
	MerchantUID string   `json:"merchantUid"`
	RecipientID int64    `json:"recipientId"`
	Message     string   `json:"message"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
