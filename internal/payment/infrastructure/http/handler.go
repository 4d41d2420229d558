package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/payment/domain"
)

type PaymentService interface {
	CreatePayment(ctx context.Context, paymentKey, merchantUID string, amount int64) (domain.Payment, error)
	GetPayment(ctx context.Context, merchantUID string) (domain.Payment, error)
	History(ctx context.Context, merchantUID string) ([]domain.Payment, error)
}

type Handler struct {
	log *zap.Logger
	svc PaymentService
}

func NewHandler(log *zap.Logger, svc PaymentService) *Handler {
	return &Handler{log: log, svc: svc}
}

type createPaymentReq struct {
	PaymentKey  string `json:"paymentKey" binding:"required"`
	MerchantUID string `json:"merchantUid" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
}

type paymentResp struct {
	ID           int64     `json:"id"`
	MerchantUID  string    `json:"merchantUid"`
	PaymentKey   string    `json:"paymentKey"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	CancelReason string    `json:"cancelReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func NewRouter(log *zap.Logger, h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-service"})
	})

	r.POST("/payments", h.CreatePayment)
	r.GET("/payments/:merchantUid", h.GetPayment)
	r.GET("/payments/:merchantUid/history", h.History)
	return r
}

func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	p, err := h.svc.CreatePayment(c.Request.Context(), req.PaymentKey, req.MerchantUID, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toResp(p))
}

func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.svc.GetPayment(c.Request.Context(), c.Param("merchantUid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResp(p))
}

func (h *Handler) History(c *gin.Context) {
	ps, err := h.svc.History(c.Request.Context(), c.Param("merchantUid"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]paymentResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, toResp(p))
	}
	c.JSON(http.StatusOK, gin.H{"merchantUid": c.Param("merchantUid"), "records": out})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidAmount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAlreadyPaid), errors.Is(err, domain.ErrPaymentInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error("payment request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func toResp(p domain.Payment) paymentResp {
	return paymentResp{
		ID:           p.ID,
		MerchantUID:  p.MerchantUID,
		PaymentKey:   p.PaymentKey,
		Amount:       p.Amount,
		Status:       string(p.Status),
		CancelReason: p.CancelReason,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
