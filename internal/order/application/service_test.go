package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/order/domain"
)

type memRepo struct {
	mu     sync.Mutex
	orders map[int64]domain.Order
	outbox []events.Event
	nextID int64

	// beforeSave runs once before the next save, e.g. to simulate a concurrent writer.
	beforeSave func(r *memRepo)
	saves      int
}

func newMemRepo() *memRepo {
	return &memRepo{orders: map[int64]domain.Order{}}
}

func (r *memRepo) Create(_ context.Context, o domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if existing.MerchantUID == o.MerchantUID {
			return domain.Order{}, domain.ErrDuplicateOrder
		}
	}
	r.nextID++
	o.ID = r.nextID
	r.orders[o.ID] = o
	return o, nil
}

func (r *memRepo) Get(_ context.Context, id int64) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (r *memRepo) GetByMerchantUID(_ context.Context, merchantUID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.MerchantUID == merchantUID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (r *memRepo) Save(_ context.Context, o domain.Order) (domain.Order, error) {
	return r.save(o, nil)
}

func (r *memRepo) SaveWithOutbox(_ context.Context, o domain.Order, ev events.Event) (domain.Order, error) {
	return r.save(o, ev)
}

func (r *memRepo) save(o domain.Order, ev events.Event) (domain.Order, error) {
	if hook := r.beforeSave; hook != nil {
		r.beforeSave = nil
		hook(r)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.orders[o.ID].Version != o.Version {
		return domain.Order{}, domain.ErrConcurrentModification
	}
	o.Version++
	r.orders[o.ID] = o
	if ev != nil {
		r.outbox = append(r.outbox, ev)
	}
	return o, nil
}

// bump simulates another writer moving the stored order to status.
func (r *memRepo) bump(id int64, status domain.OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[id]
	o.Status = status
	o.Version++
	r.orders[id] = o
}

type recordingNotifier struct {
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.sent = append(n.sent, note)
	return n.err
}

func setup(t *testing.T, status domain.OrderStatus) (*Service, *memRepo, *recordingNotifier, domain.Order) {
	t.Helper()
	repo := newMemRepo()
	notifier := &recordingNotifier{}
	svc := NewService(zap.NewNop(), repo, notifier)

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{MerchantUID: "m1", CustomerID: 10, StoreID: 20, TotalPrice: 10000})
	require.NoError(t, err)
	if status != domain.StatusPending {
		repo.bump(o.ID, status)
	}
	o, err = repo.Get(context.Background(), o.ID)
	require.NoError(t, err)
	return svc, repo, notifier, o
}

func TestCreateOrder(t *testing.T) {
	svc, repo, _, o := setup(t, domain.StatusPending)
	assert.Equal(t, domain.StatusPending, o.Status)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{MerchantUID: "m1", TotalPrice: 1})
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)

	_, err = svc.CreateOrder(context.Background(), CreateOrderInput{MerchantUID: "m2", TotalPrice: -5})
	require.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Len(t, repo.orders, 1)
}

func TestPayOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("writes OrderPaymentRequested to the outbox", func(t *testing.T) {
		svc, repo, _, o := setup(t, domain.StatusPending)

		require.NoError(t, svc.PayOrder(ctx, "m1", "pk1"))

		require.Len(t, repo.outbox, 1)
		ev, ok := repo.outbox[0].(events.OrderPaymentRequested)
		require.True(t, ok)
		assert.Equal(t, "pk1", ev.PaymentKey)
		assert.Equal(t, o.Snapshot(), ev.Order)

		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, o.Version+1, saved.Version)
		assert.Equal(t, domain.StatusPending, saved.Status)
	})

	t.Run("retry after failure is allowed", func(t *testing.T) {
		svc, repo, _, _ := setup(t, domain.StatusPaymentFailed)
		require.NoError(t, svc.PayOrder(ctx, "m1", "pk2"))
		assert.Len(t, repo.outbox, 1)
	})

	t.Run("paid order is not payable", func(t *testing.T) {
		svc, repo, _, _ := setup(t, domain.StatusPaid)
		require.ErrorIs(t, svc.PayOrder(ctx, "m1", "pk1"), domain.ErrOrderNotPayable)
		assert.Empty(t, repo.outbox)
	})

	t.Run("unknown merchant", func(t *testing.T) {
		svc, _, _, _ := setup(t, domain.StatusPending)
		require.ErrorIs(t, svc.PayOrder(ctx, "m404", "pk1"), domain.ErrOrderNotFound)
	})
}

func TestCancelAndRejectOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("customer cancel requests cancellation", func(t *testing.T) {
		svc, repo, _, o := setup(t, domain.StatusPaid)

		require.NoError(t, svc.CancelOrder(ctx, o.ID, "changed mind"))

		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, domain.StatusCancellationRequested, saved.Status)
		require.Len(t, repo.outbox, 1)
		ev := repo.outbox[0].(events.OrderCancel)
		assert.Equal(t, events.PublisherCustomer, ev.Publisher)
		assert.Equal(t, "changed mind", ev.Reason)
		assert.Equal(t, string(domain.StatusCancellationRequested), ev.Order.Status)
	})

	t.Run("pending order cannot be canceled", func(t *testing.T) {
		svc, repo, _, o := setup(t, domain.StatusPending)
		require.ErrorIs(t, svc.CancelOrder(ctx, o.ID, "x"), domain.ErrOrderNotCancellable)
		assert.Empty(t, repo.outbox)
	})

	t.Run("seller reject keeps order paid", func(t *testing.T) {
		svc, repo, _, o := setup(t, domain.StatusPaid)

		require.NoError(t, svc.RejectOrder(ctx, o.ID, "out of stock"))

		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, domain.StatusPaid, saved.Status)
		require.Len(t, repo.outbox, 1)
		assert.Equal(t, events.PublisherSeller, repo.outbox[0].(events.OrderCancel).Publisher)
	})

	t.Run("missing order", func(t *testing.T) {
		svc, _, _, _ := setup(t, domain.StatusPaid)
		require.ErrorIs(t, svc.CancelOrder(ctx, 404, "x"), domain.ErrOrderNotFound)
		require.ErrorIs(t, svc.RejectOrder(ctx, 404, "x"), domain.ErrOrderNotFound)
	})
}

func TestReactions(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate PaymentSuccess leaves the same state", func(t *testing.T) {
		svc, repo, _, o := setup(t, domain.StatusPending)

		require.NoError(t, svc.ProcessPaymentCompletion(ctx, "m1"))
		once, _ := repo.Get(ctx, o.ID)
		require.NoError(t, svc.ProcessPaymentCompletion(ctx, "m1"))
		twice, _ := repo.Get(ctx, o.ID)

		assert.Equal(t, domain.StatusPaid, twice.Status)
		assert.Equal(t, once, twice)
		assert.Equal(t, 1, repo.saves)
	})

	t.Run("payment failure", func(t *testing.T) {
		svc, repo, _, o := setup(t, domain.StatusPending)
		require.NoError(t, svc.ProcessPaymentFailure(ctx, "m1"))
		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, domain.StatusPaymentFailed, saved.Status)
	})

	t.Run("cancel failed returns order to paid and tells the customer", func(t *testing.T) {
		svc, repo, notifier, o := setup(t, domain.StatusCancellationRequested)

		require.NoError(t, svc.ProcessPaymentCancelFailed(ctx, "m1"))
		require.NoError(t, svc.ProcessPaymentCancelFailed(ctx, "m1"))

		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, domain.StatusPaid, saved.Status)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, AudienceCustomer, notifier.sent[0].Audience)
		assert.Equal(t, int64(10), notifier.sent[0].RecipientID)
	})

	t.Run("customer cancel success notifies the customer only", func(t *testing.T) {
		svc, repo, notifier, o := setup(t, domain.StatusCancellationRequested)

		require.NoError(t, svc.ProcessPaymentCancelSuccess(ctx, "m1", events.PublisherCustomer))

		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, domain.StatusCanceled, saved.Status)
		require.Len(t, notifier.sent, 1)
		assert.Equal(t, AudienceCustomer, notifier.sent[0].Audience)
	})

	t.Run("seller cancel success notifies customer and store", func(t *testing.T) {
		svc, _, notifier, _ := setup(t, domain.StatusPaid)

		require.NoError(t, svc.ProcessPaymentCancelSuccess(ctx, "m1", events.PublisherSeller))

		require.Len(t, notifier.sent, 2)
		assert.Equal(t, AudienceCustomer, notifier.sent[0].Audience)
		assert.Equal(t, AudienceStore, notifier.sent[1].Audience)
		assert.Equal(t, int64(20), notifier.sent[1].RecipientID)
	})

	t.Run("notifier failure does not fail the reaction", func(t *testing.T) {
		svc, repo, notifier, o := setup(t, domain.StatusCancellationRequested)
		notifier.err = errors.New("channel down")

		require.NoError(t, svc.ProcessPaymentCancelSuccess(ctx, "m1", events.PublisherCustomer))
		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, domain.StatusCanceled, saved.Status)
	})

	t.Run("version conflict is retried against the fresh order", func(t *testing.T) {
		svc, repo, _, o := setup(t, domain.StatusPending)
		repo.beforeSave = func(r *memRepo) { r.bump(o.ID, domain.StatusPending) }

		require.NoError(t, svc.ProcessPaymentCompletion(ctx, "m1"))

		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, domain.StatusPaid, saved.Status)
		assert.Equal(t, 2, repo.saves)
	})

	t.Run("conflict with a writer that already applied the transition is a no-op", func(t *testing.T) {
		svc, repo, _, o := setup(t, domain.StatusPending)
		repo.beforeSave = func(r *memRepo) { r.bump(o.ID, domain.StatusPaid) }

		require.NoError(t, svc.ProcessPaymentCompletion(ctx, "m1"))

		saved, _ := repo.Get(ctx, o.ID)
		assert.Equal(t, domain.StatusPaid, saved.Status)
		assert.Equal(t, 1, repo.saves)
	})

	t.Run("invalid transition is reported", func(t *testing.T) {
		svc, _, _, _ := setup(t, domain.StatusCanceled)
		require.ErrorIs(t, svc.ProcessPaymentCancelFailed(ctx, "m1"), domain.ErrInvalidOrderTransition)
	})

	t.Run("unknown merchant", func(t *testing.T) {
		svc, _, _, _ := setup(t, domain.StatusPending)
		require.ErrorIs(t, svc.ProcessPaymentFailure(ctx, "m404"), domain.ErrOrderNotFound)
	})
}
