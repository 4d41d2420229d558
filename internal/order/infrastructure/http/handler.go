package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/order/application"
	"github.com/dmehra2102/delivery-settlement/internal/order/domain"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in application.CreateOrderInput) (domain.Order, error)
	GetOrder(ctx context.Context, id int64) (domain.Order, error)
	PayOrder(ctx context.Context, merchantUID, paymentKey string) error
	CancelOrder(ctx context.Context, orderID int64, reason string) error
	RejectOrder(ctx context.Context, orderID int64, reason string) error
}

type Handler struct {
	log     *zap.Logger
	service OrderService
	tracer  trace.Tracer
}

func NewHandler(log *zap.Logger, service OrderService) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

type createOrderReq struct {
	MerchantUID string `json:"merchantUid"`
	CustomerID  int64  `json:"customerId"`
	StoreID     int64  `json:"storeId"`
	TotalPrice  int64  `json:"totalPrice"`
}

type payOrderReq struct {
	PaymentKey string `json:"paymentKey"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type orderResp struct {
	ID           int64     `json:"id"`
	MerchantUID  string    `json:"merchantUid"`
	CustomerID   int64     `json:"customerId"`
	StoreID      int64     `json:"storeId"`
	TotalPrice   int64     `json:"totalPrice"`
	Status       string    `json:"status"`
	CancelReason string    `json:"cancelReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "order-service"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{merchantUid}/pay", h.payOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/reject", h.rejectOrder)
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	o, err := h.service.CreateOrder(ctx, application.CreateOrderInput(req))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResp(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(o))
}

func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PayOrder")
	defer span.End()

	var req payOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentKey == "" {
		http.Error(w, "paymentKey is required", http.StatusBadRequest)
		return
	}
	merchantUID := chi.URLParam(r, "merchantUid")
	if err := h.service.PayOrder(ctx, merchantUID, req.PaymentKey); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "payment_requested", "merchantUid": merchantUID})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.cancelLike(w, r, "CancelOrder", "cancellation_requested", h.service.CancelOrder)
}

func (h *Handler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	h.cancelLike(w, r, "RejectOrder", "rejection_requested", h.service.RejectOrder)
}

func (h *Handler) cancelLike(w http.ResponseWriter, r *http.Request, span, status string, op func(context.Context, int64, string) error) {
	ctx, sp := h.tracer.Start(r.Context(), span)
	defer sp.End()

	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req reasonReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := op(ctx, id, req.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": status, "orderId": id})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidOrder):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrDuplicateOrder),
		errors.Is(err, domain.ErrOrderNotPayable),
		errors.Is(err, domain.ErrOrderNotCancellable),
		errors.Is(err, domain.ErrConcurrentModification):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("order request failed", zap.String("path", r.URL.Path), zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func toResp(o domain.Order) orderResp {
	return orderResp{
		ID:           o.ID,
		MerchantUID:  o.MerchantUID,
		CustomerID:   o.CustomerID,
		StoreID:      o.StoreID,
		TotalPrice:   o.TotalPrice,
		Status:       string(o.Status),
		CancelReason: o.CancelReason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
