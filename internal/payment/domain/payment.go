package domain

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusReady        Status = "READY"
	StatusPaid         Status = "PAID"
	StatusFailed       Status = "FAILED"
	StatusCanceled     Status = "CANCELED"
	StatusCancelFailed Status = "CANCEL_FAILED"
)

var (
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrInvalidAmount            = errors.New("payment amount must be positive")
	ErrAmountMismatch           = errors.New("order amount does not match payment amount")
	ErrPaymentKeyMismatch       = errors.New("payment key does not match ready payment")
	ErrGatewayMismatch          = errors.New("gateway response does not match request")
	ErrUnsupportedPartialCancel = errors.New("partial cancellation is not supported")
	ErrInvalidTransition        = errors.New("invalid payment status transition")
	ErrPaymentInProgress        = errors.New("payment is being processed")
	ErrAlreadyPaid              = errors.New("merchant already has a paid payment")
)

// GatewayError wraps a transport-level gateway failure (network, timeout, 4xx/5xx).
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("gateway %s: %v", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

// Payment is one row of the ledger. The confirm phase updates a READY row in place;
// the cancel phase appends a new row and leaves the PAID row untouched.
type Payment struct {
	ID           int64
	MerchantUID  string
	PaymentKey   string
	Amount       int64
	Status       Status
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewPayment(paymentKey, merchantUID string, amount int64) (Payment, error) {
	if amount <= 0 {
		return Payment{}, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return Payment{
		MerchantUID: merchantUID,
		PaymentKey:  paymentKey,
		Amount:      amount,
		Status:      StatusReady,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransitionTo describes the ledger state machine. Transitions out of PAID produce a
// new row rather than mutating the PAID one.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusReady:
		return target == StatusPaid || target == StatusFailed
	case StatusPaid, StatusCancelFailed:
		return target == StatusCanceled || target == StatusCancelFailed
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusCanceled
}

// Appends reports whether moving to s is recorded as a new ledger row.
func (s Status) Appends() bool {
	return s == StatusCanceled || s == StatusCancelFailed
}

// CancelRecord derives the cancel-phase row appended for a PAID payment.
func (p Payment) CancelRecord(status Status, reason string) (Payment, error) {
	if !StatusPaid.CanTransitionTo(status) {
		return Payment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, status)
	}
	now := time.Now().UTC()
	return Payment{
		MerchantUID:  p.MerchantUID,
		PaymentKey:   p.PaymentKey,
		Amount:       p.Amount,
		Status:       status,
		CancelReason: reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// OperativeStatus resolves the effective state of a merchantUid from its most recent
// ledger row: a failed cancellation leaves the payment charged.
func OperativeStatus(latest Payment) Status {
	if latest.Status == StatusCancelFailed {
		return StatusPaid
	}
	return latest.Status
}
