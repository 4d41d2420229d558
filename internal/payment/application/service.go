package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/payment/domain"
	"github.com/dmehra2102/delivery-settlement/pkg/idempotency"
	"github.com/dmehra2102/delivery-settlement/pkg/metrics"
)

const defaultGatewayTimeout = 10 * time.Second

type Service struct {
	log            *zap.Logger
	repo           PaymentRepository
	gateway        Gateway
	locker         Locker
	gatewayTimeout time.Duration
	tracer         trace.Tracer
}

func NewService(log *zap.Logger, repo PaymentRepository, gateway Gateway, locker Locker, gatewayTimeout time.Duration) *Service {
	if gatewayTimeout <= 0 {
		gatewayTimeout = defaultGatewayTimeout
	}
	return &Service{
		log:            log,
		repo:           repo,
		gateway:        gateway,
		locker:         locker,
		gatewayTimeout: gatewayTimeout,
		tracer:         otel.Tracer("payment-service"),
	}
}

// CreatePayment records a READY payment for merchantUID. Repeating the call with the
// same key and amount while that payment is still READY is a no-op. A merchant whose
// operative status is PAID gets ErrAlreadyPaid.
func (s *Service) CreatePayment(ctx context.Context, paymentKey, merchantUID string, amount int64) (domain.Payment, error) {
	p, err := domain.NewPayment(paymentKey, merchantUID, amount)
	if err != nil {
		return domain.Payment{}, err
	}

	release, err := s.lock(ctx, merchantUID)
	if err != nil {
		return domain.Payment{}, err
	}
	defer release()

	latest, err := s.repo.FindByMerchantUID(ctx, merchantUID)
	switch {
	case err == nil && domain.OperativeStatus(latest) == domain.StatusPaid:
		return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrAlreadyPaid, merchantUID)
	case err != nil && !errors.Is(err, domain.ErrPaymentNotFound):
		return domain.Payment{}, err
	}

	existing, err := s.repo.FindByMerchantUIDAndStatus(ctx, merchantUID, domain.StatusReady)
	switch {
	case err == nil && existing.PaymentKey == paymentKey && existing.Amount == amount:
		return existing, nil
	case err != nil && !errors.Is(err, domain.ErrPaymentNotFound):
		return domain.Payment{}, err
	}

	created, err := s.repo.Insert(ctx, p)
	if err != nil {
		return domain.Payment{}, err
	}
	metrics.PaymentTransitions.WithLabelValues(string(domain.StatusReady)).Inc()
	s.log.Info("payment created", zap.String("merchant_uid", merchantUID), zap.Int64("amount", amount))
	return created, nil
}

// ConfirmPayment settles the READY payment for merchantUID with the gateway. Gateway
// transport failures end in FAILED plus a PaymentFailed event and are not returned;
// validation failures and forged gateway responses are returned after the event is stored.
func (s *Service) ConfirmPayment(ctx context.Context, paymentKey, merchantUID string, orderAmount int64) error {
	ctx, span := s.tracer.Start(ctx, "ConfirmPayment", trace.WithAttributes(attribute.String("merchant_uid", merchantUID)))
	defer span.End()

	release, err := s.lock(ctx, merchantUID)
	if err != nil {
		return err
	}
	defer release()

	p, err := s.repo.FindByMerchantUIDAndStatus(ctx, merchantUID, domain.StatusReady)
	if err != nil {
		return err
	}

	if orderAmount != p.Amount {
		return s.fail(ctx, p, domain.ErrAmountMismatch)
	}
	if paymentKey != p.PaymentKey {
		return s.fail(ctx, p, domain.ErrPaymentKeyMismatch)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Confirm(gctx, p.PaymentKey, p.MerchantUID, p.Amount)
	metrics.GatewayLatency.WithLabelValues("confirm").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("confirm", "error").Inc()
		span.RecordError(err)
		s.log.Error("gateway confirm failed",
			zap.String("merchant_uid", merchantUID),
			zap.Error(&domain.GatewayError{Op: "confirm", Err: err}),
		)
		if ferr := s.fail(ctx, p, nil); ferr != nil {
			return ferr
		}
		return nil
	}

	if res.PaymentKey != p.PaymentKey || res.OrderID != p.MerchantUID || res.TotalAmount != p.Amount {
		metrics.GatewayCalls.WithLabelValues("confirm", "mismatch").Inc()
		s.log.Warn("gateway confirm response mismatch",
			zap.String("merchant_uid", merchantUID),
			zap.String("resp_payment_key", res.PaymentKey),
			zap.String("resp_order_id", res.OrderID),
			zap.Int64("resp_total_amount", res.TotalAmount),
			zap.Int64("amount", p.Amount),
		)
		return s.fail(ctx, p, domain.ErrGatewayMismatch)
	}
	metrics.GatewayCalls.WithLabelValues("confirm", "ok").Inc()

	if err := s.repo.UpdateStatusWithEvent(ctx, p.ID, domain.StatusReady, domain.StatusPaid, events.PaymentSuccess{MerchantUID: merchantUID}); err != nil {
		return fmt.Errorf("mark payment paid: %w", err)
	}
	metrics.PaymentTransitions.WithLabelValues(string(domain.StatusPaid)).Inc()
	s.log.Info("payment confirmed", zap.String("merchant_uid", merchantUID), zap.Int64("amount", p.Amount))
	return nil
}

// fail moves a READY payment to FAILED with a PaymentFailed event, then returns cause.
func (s *Service) fail(ctx context.Context, p domain.Payment, cause error) error {
	if err := s.repo.UpdateStatusWithEvent(ctx, p.ID, domain.StatusReady, domain.StatusFailed, events.PaymentFailed{MerchantUID: p.MerchantUID}); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	metrics.PaymentTransitions.WithLabelValues(string(domain.StatusFailed)).Inc()
	s.log.Info("payment failed", zap.String("merchant_uid", p.MerchantUID), zap.NamedError("cause", cause))
	return cause
}

// CancelPayment refunds the full amount of the operative PAID payment. The outcome is
// appended as a CANCELED or CANCEL_FAILED row; the PAID row is never modified.
func (s *Service) CancelPayment(ctx context.Context, merchantUID, reason string, publisher events.Publisher) error {
	ctx, span := s.tracer.Start(ctx, "CancelPayment", trace.WithAttributes(attribute.String("merchant_uid", merchantUID)))
	defer span.End()

	release, err := s.lock(ctx, merchantUID)
	if err != nil {
		return err
	}
	defer release()

	latest, err := s.repo.FindByMerchantUID(ctx, merchantUID)
	if err != nil {
		return err
	}
	if domain.OperativeStatus(latest) != domain.StatusPaid {
		return fmt.Errorf("%w: merchant %s is %s", domain.ErrPaymentNotFound, merchantUID, latest.Status)
	}
	paid, err := s.repo.FindByMerchantUIDAndStatus(ctx, merchantUID, domain.StatusPaid)
	if err != nil {
		return err
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Cancel(gctx, paid.PaymentKey, reason)
	metrics.GatewayLatency.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("cancel", "error").Inc()
		span.RecordError(err)
		s.log.Error("gateway cancel failed",
			zap.String("merchant_uid", merchantUID),
			zap.Error(&domain.GatewayError{Op: "cancel", Err: err}),
		)
		return s.cancelFailed(ctx, paid, reason, nil)
	}

	if res.PaymentKey != paid.PaymentKey || res.OrderID != paid.MerchantUID {
		metrics.GatewayCalls.WithLabelValues("cancel", "mismatch").Inc()
		return s.cancelFailed(ctx, paid, reason, domain.ErrGatewayMismatch)
	}
	if len(res.Cancels) != 1 || res.Cancels[0].CancelAmount != paid.Amount {
		metrics.GatewayCalls.WithLabelValues("cancel", "partial").Inc()
		return s.cancelFailed(ctx, paid, reason, domain.ErrUnsupportedPartialCancel)
	}
	metrics.GatewayCalls.WithLabelValues("cancel", "ok").Inc()

	rec, err := paid.CancelRecord(domain.StatusCanceled, reason)
	if err != nil {
		return err
	}
	if _, err := s.repo.AppendWithEvent(ctx, rec, events.PaymentCancelSuccess{MerchantUID: merchantUID, Publisher: publisher}); err != nil {
		return fmt.Errorf("append canceled payment: %w", err)
	}
	metrics.PaymentTransitions.WithLabelValues(string(domain.StatusCanceled)).Inc()
	s.log.Info("payment canceled", zap.String("merchant_uid", merchantUID), zap.String("publisher", string(publisher)))
	return nil
}

func (s *Service) cancelFailed(ctx context.Context, paid domain.Payment, reason string, cause error) error {
	rec, err := paid.CancelRecord(domain.StatusCancelFailed, reason)
	if err != nil {
		return err
	}
	if _, err := s.repo.AppendWithEvent(ctx, rec, events.PaymentCancelFailed{MerchantUID: paid.MerchantUID}); err != nil {
		return fmt.Errorf("append cancel-failed payment: %w", err)
	}
	metrics.PaymentTransitions.WithLabelValues(string(domain.StatusCancelFailed)).Inc()
	s.log.Warn("payment cancel failed", zap.String("merchant_uid", paid.MerchantUID), zap.NamedError("cause", cause))
	return cause
}

func (s *Service) GetPayment(ctx context.Context, merchantUID string) (domain.Payment, error) {
	return s.repo.FindByMerchantUID(ctx, merchantUID)
}

func (s *Service) History(ctx context.Context, merchantUID string) ([]domain.Payment, error) {
	return s.repo.History(ctx, merchantUID)
}

func (s *Service) lock(ctx context.Context, merchantUID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, merchantUID)
	if errors.Is(err, idempotency.ErrLocked) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentInProgress, merchantUID)
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}
