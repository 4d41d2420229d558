package application

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/order/domain"
)

// maxReactionAttempts bounds reload-and-reapply rounds when a reaction loses an
// optimistic version race.
const maxReactionAttempts = 3

type Service struct {
	log      *zap.Logger
	repo     OrderRepository
	notifier Notifier
	tracer   trace.Tracer
}

func NewService(log *zap.Logger, repo OrderRepository, notifier Notifier) *Service {
	return &Service{
		log:      log,
		repo:     repo,
		notifier: notifier,
		tracer:   otel.Tracer("order-service"),
	}
}

type CreateOrderInput struct {
	MerchantUID string
	CustomerID  int64
	StoreID     int64
	TotalPrice  int64
}

func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	o, err := domain.NewOrder(in.MerchantUID, in.CustomerID, in.StoreID, in.TotalPrice)
	if err != nil {
		return domain.Order{}, err
	}
	created, err := s.repo.Create(ctx, o)
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order created", zap.Int64("order_id", created.ID), zap.String("merchant_uid", created.MerchantUID))
	return created, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

// PayOrder records the intent to pay. The payment service picks it up from the outbox;
// nothing here waits for the outcome.
func (s *Service) PayOrder(ctx context.Context, merchantUID, paymentKey string) error {
	ctx, span := s.tracer.Start(ctx, "PayOrder", trace.WithAttributes(attribute.String("merchant_uid", merchantUID)))
	defer span.End()

	o, err := s.repo.GetByMerchantUID(ctx, merchantUID)
	if err != nil {
		return err
	}
	if !o.IsPayable() {
		return fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotPayable, merchantUID, o.Status)
	}

	ev := events.OrderPaymentRequested{Order: o.Snapshot(), PaymentKey: paymentKey}
	if _, err := s.repo.SaveWithOutbox(ctx, o, ev); err != nil {
		return err
	}
	s.log.Info("payment requested", zap.String("merchant_uid", merchantUID), zap.Int64("total_price", o.TotalPrice))
	return nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID int64, reason string) error {
	ctx, span := s.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.Int64("order_id", orderID)))
	defer span.End()

	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := o.CancellationRequest(reason); err != nil {
		return err
	}

	ev := events.OrderCancel{Order: o.Snapshot(), Reason: reason, Publisher: events.PublisherCustomer}
	if _, err := s.repo.SaveWithOutbox(ctx, o, ev); err != nil {
		return err
	}
	s.log.Info("cancellation requested", zap.Int64("order_id", orderID), zap.String("merchant_uid", o.MerchantUID))
	return nil
}

func (s *Service) RejectOrder(ctx context.Context, orderID int64, reason string) error {
	ctx, span := s.tracer.Start(ctx, "RejectOrder", trace.WithAttributes(attribute.Int64("order_id", orderID)))
	defer span.End()

	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := o.Reject(reason); err != nil {
		return err
	}

	ev := events.OrderCancel{Order: o.Snapshot(), Reason: reason, Publisher: events.PublisherSeller}
	if _, err := s.repo.SaveWithOutbox(ctx, o, ev); err != nil {
		return err
	}
	s.log.Info("order rejected by seller", zap.Int64("order_id", orderID), zap.String("merchant_uid", o.MerchantUID))
	return nil
}

func (s *Service) ProcessPaymentCompletion(ctx context.Context, merchantUID string) error {
	_, _, err := s.react(ctx, merchantUID, "payment completion", (*domain.Order).ProcessPaymentCompletion)
	return err
}

func (s *Service) ProcessPaymentFailure(ctx context.Context, merchantUID string) error {
	_, _, err := s.react(ctx, merchantUID, "payment failure", (*domain.Order).ProcessPaymentFailure)
	return err
}

func (s *Service) ProcessPaymentCancelSuccess(ctx context.Context, merchantUID string, publisher events.Publisher) error {
	o, changed, err := s.react(ctx, merchantUID, "payment cancel success", func(o *domain.Order) (bool, error) {
		return o.ProcessPaymentCancelSuccess(publisher)
	})
	if err != nil || !changed {
		return err
	}

	s.notify(ctx, o, AudienceCustomer, o.CustomerID, "your order has been canceled and refunded")
	if publisher != events.PublisherCustomer {
		s.notify(ctx, o, AudienceStore, o.StoreID, "order canceled and refunded")
	}
	return nil
}

func (s *Service) ProcessPaymentCancelFailed(ctx context.Context, merchantUID string) error {
	o, changed, err := s.react(ctx, merchantUID, "payment cancel failure", (*domain.Order).ProcessPaymentCancelFailed)
	if err != nil || !changed {
		return err
	}
	s.notify(ctx, o, AudienceCustomer, o.CustomerID, "your cancellation could not be completed; the order remains paid")
	return nil
}

// react loads the order, applies transition, and saves it. Losing a version race
// reloads and reapplies, so a transition another writer already made becomes a no-op.
func (s *Service) react(ctx context.Context, merchantUID, name string, transition func(*domain.Order) (bool, error)) (domain.Order, bool, error) {
	ctx, span := s.tracer.Start(ctx, "React", trace.WithAttributes(
		attribute.String("merchant_uid", merchantUID),
		attribute.String("reaction", name),
	))
	defer span.End()

	for attempt := 1; ; attempt++ {
		o, err := s.repo.GetByMerchantUID(ctx, merchantUID)
		if err != nil {
			return domain.Order{}, false, err
		}
		changed, err := transition(&o)
		if err != nil {
			return o, false, err
		}
		if !changed {
			s.log.Info("reaction already applied", zap.String("reaction", name), zap.String("merchant_uid", merchantUID), zap.String("status", string(o.Status)))
			return o, false, nil
		}

		saved, err := s.repo.Save(ctx, o)
		if errors.Is(err, domain.ErrConcurrentModification) && attempt < maxReactionAttempts {
			s.log.Warn("order version conflict, retrying", zap.String("reaction", name), zap.String("merchant_uid", merchantUID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			span.RecordError(err)
			return o, false, err
		}
		s.log.Info("order updated", zap.String("reaction", name), zap.String("merchant_uid", merchantUID), zap.String("status", string(saved.Status)))
		return saved, true, nil
	}
}

// notify is best effort; the order transition is already committed.
func (s *Service) notify(ctx context.Context, o domain.Order, audience Audience, recipient int64, msg string) {
	if s.notifier == nil {
		return
	}
	n := Notification{
		Audience:    audience,
		OrderID:     o.ID,
		MerchantUID: o.MerchantUID,
		RecipientID: recipient,
		Message:     msg,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("notification failed", zap.String("audience", string(audience)), zap.String("merchant_uid", o.MerchantUID), zap.Error(err))
	}
}
