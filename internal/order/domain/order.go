package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmehra2102/delivery-settlement/internal/events"
)

type OrderStatus string

const (
	StatusPending               OrderStatus = "PENDING"
	StatusPaymentFailed         OrderStatus = "PAYMENT_FAILED"
	StatusPaid                  OrderStatus = "PAID"
	StatusCancellationRequested OrderStatus = "CANCELLATION_REQUESTED"
	StatusCanceled              OrderStatus = "CANCELED"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidOrder           = errors.New("invalid order")
	ErrDuplicateOrder         = errors.New("order already exists")
	ErrOrderNotPayable        = errors.New("order not payable")
	ErrOrderNotCancellable    = errors.New("order not cancellable")
	ErrInvalidOrderTransition = errors.New("invalid order transition")
	ErrConcurrentModification = errors.New("order modified concurrently")
)

type Order struct {
	ID           int64
	MerchantUID  string
	CustomerID   int64
	StoreID      int64
	TotalPrice   int64
	Status       OrderStatus
	CancelReason string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewOrder(merchantUID string, customerID, storeID, totalPrice int64) (Order, error) {
	if strings.TrimSpace(merchantUID) == "" {
		return Order{}, fmt.Errorf("%w: merchantUid is required", ErrInvalidOrder)
	}
	if totalPrice <= 0 {
		return Order{}, fmt.Errorf("%w: totalPrice must be positive", ErrInvalidOrder)
	}
	now := time.Now().UTC()
	return Order{
		MerchantUID: merchantUID,
		CustomerID:  customerID,
		StoreID:     storeID,
		TotalPrice:  totalPrice,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsPayable reports whether a payment attempt may be started. A failed attempt can be
// retried.
func (o Order) IsPayable() bool {
	return o.Status == StatusPending || o.Status == StatusPaymentFailed
}

func (o *Order) CancellationRequest(reason string) error {
	if o.Status != StatusPaid {
		return fmt.Errorf("%w: order %d is %s", ErrOrderNotCancellable, o.ID, o.Status)
	}
	o.setStatus(StatusCancellationRequested)
	o.CancelReason = reason
	return nil
}

// Reject records a seller-initiated refund request. The order stays PAID until the
// payment outcome arrives.
func (o *Order) Reject(reason string) error {
	if o.Status != StatusPaid {
		return fmt.Errorf("%w: order %d is %s", ErrOrderNotCancellable, o.ID, o.Status)
	}
	o.CancelReason = reason
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// The Process* transitions are driven by payment outcome events. Each reports whether
// the order changed; a repeated event leaves the order untouched and is not an error.

func (o *Order) ProcessPaymentCompletion() (bool, error) {
	switch o.Status {
	case StatusPending, StatusPaymentFailed:
		o.setStatus(StatusPaid)
		return true, nil
	case StatusPaid, StatusCancellationRequested, StatusCanceled:
		return false, nil
	}
	return false, o.invalid("payment completion")
}

func (o *Order) ProcessPaymentFailure() (bool, error) {
	switch o.Status {
	case StatusPending:
		o.setStatus(StatusPaymentFailed)
		return true, nil
	case StatusPaymentFailed:
		return false, nil
	}
	return false, o.invalid("payment failure")
}

// ProcessPaymentCancelSuccess cancels the order. Seller and system initiated refunds
// never pass through CANCELLATION_REQUESTED, so they are accepted from PAID.
func (o *Order) ProcessPaymentCancelSuccess(publisher events.Publisher) (bool, error) {
	switch {
	case o.Status == StatusCanceled:
		return false, nil
	case o.Status == StatusCancellationRequested:
		o.setStatus(StatusCanceled)
		return true, nil
	case o.Status == StatusPaid && publisher != events.PublisherCustomer:
		o.setStatus(StatusCanceled)
		return true, nil
	}
	return false, o.invalid("payment cancel success from " + string(publisher))
}

// ProcessPaymentCancelFailed returns a pending cancellation to PAID; the payment is
// still captured.
func (o *Order) ProcessPaymentCancelFailed() (bool, error) {
	switch o.Status {
	case StatusCancellationRequested:
		o.setStatus(StatusPaid)
		return true, nil
	case StatusPaid:
		return false, nil
	}
	return false, o.invalid("payment cancel failure")
}

func (o Order) Snapshot() events.OrderSnapshot {
	return events.OrderSnapshot{
		OrderID:     o.ID,
		MerchantUID: o.MerchantUID,
		CustomerID:  o.CustomerID,
		StoreID:     o.StoreID,
		TotalPrice:  o.TotalPrice,
		Status:      string(o.Status),
	}
}

func (o *Order) setStatus(s OrderStatus) {
	o.Status = s
	o.UpdatedAt = time.Now().UTC()
}

func (o Order) invalid(what string) error {
	return fmt.Errorf("%w: %s on order %s in %s", ErrInvalidOrderTransition, what, o.MerchantUID, o.Status)
}
