package application

import (
	"context"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/payment/domain"
)

type PaymentRepository interface {
	Insert(ctx context.Context, p domain.Payment) (domain.Payment, error)
	// FindByMerchantUID returns the most recent ledger row for merchantUID.
	FindByMerchantUID(ctx context.Context, merchantUID string) (domain.Payment, error)
	// FindByMerchantUIDAndStatus returns the most recent row with status.
	FindByMerchantUIDAndStatus(ctx context.Context, merchantUID string, status domain.Status) (domain.Payment, error)
	History(ctx context.Context, merchantUID string) ([]domain.Payment, error)
	// UpdateStatusWithEvent moves a row from -> to in place and stores ev in the outbox,
	// in one transaction. It returns domain.ErrInvalidTransition when the row is no
	// longer in from.
	UpdateStatusWithEvent(ctx context.Context, id int64, from, to domain.Status, ev events.Event) error
	// AppendWithEvent inserts a cancel-phase row and stores ev in the outbox.
	AppendWithEvent(ctx context.Context, p domain.Payment, ev events.Event) (domain.Payment, error)
}

type ConfirmResult struct {
	PaymentKey  string
	OrderID     string
	TotalAmount int64
}

type CancelEntry struct {
	CancelAmount int64
}

type CancelResult struct {
	PaymentKey string
	OrderID    string
	Cancels    []CancelEntry
}

// Gateway is the external payment gateway. Errors are transport or gateway rejections;
// responses are validated by the caller before being trusted.
type Gateway interface {
	Confirm(ctx context.Context, paymentKey, orderID string, amount int64) (ConfirmResult, error)
	Cancel(ctx context.Context, paymentKey, reason string) (CancelResult, error)
}

type Locker interface {
	Acquire(ctx context.Context, id string) (release func(), err error)
}
