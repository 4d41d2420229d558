package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/payment/domain"
)

type stubService struct {
	rows []domain.Payment
	err  error
}

func (s *stubService) CreatePayment(_ context.Context, paymentKey, merchantUID string, amount int64) (domain.Payment, error) {
	if amount <= 0 {
		return domain.Payment{}, domain.ErrInvalidAmount
	}
	if s.err != nil {
		return domain.Payment{}, s.err
	}
	p := domain.Payment{ID: int64(len(s.rows) + 1), PaymentKey: paymentKey, MerchantUID: merchantUID, Amount: amount, Status: domain.StatusReady}
	s.rows = append(s.rows, p)
	return p, nil
}

func (s *stubService) GetPayment(_ context.Context, merchantUID string) (domain.Payment, error) {
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].MerchantUID == merchantUID {
			return s.rows[i], nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

func (s *stubService) History(_ context.Context, merchantUID string) ([]domain.Payment, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Payment
	for _, p := range s.rows {
		if p.MerchantUID == merchantUID {
			out = append(out, p)
		}
	}
	return out, nil
}

func do(t *testing.T, svc *stubService, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter(zap.NewNop(), NewHandler(zap.NewNop(), svc))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestCreatePayment(t *testing.T) {
	svc := &stubService{}

	rec := do(t, svc, http.MethodPost, "/payments", `{"paymentKey":"pk1","merchantUid":"m1","amount":10000}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"READY"`)
	assert.Len(t, svc.rows, 1)

	rec = do(t, svc, http.MethodPost, "/payments", `{"paymentKey":"pk1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, svc, http.MethodPost, "/payments", `{"paymentKey":"pk1","merchantUid":"m1","amount":-1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreatePayment_Conflicts(t *testing.T) {
	for _, err := range []error{domain.ErrAlreadyPaid, domain.ErrPaymentInProgress} {
		rec := do(t, &stubService{err: err}, http.MethodPost, "/payments", `{"paymentKey":"pk2","merchantUid":"m1","amount":10000}`)
		assert.Equal(t, http.StatusConflict, rec.Code, err.Error())
	}
}

func TestGetPaymentAndHistory(t *testing.T) {
	svc := &stubService{rows: []domain.Payment{
		{ID: 1, MerchantUID: "m1", PaymentKey: "pk1", Amount: 10000, Status: domain.StatusPaid},
		{ID: 2, MerchantUID: "m1", PaymentKey: "pk1", Amount: 10000, Status: domain.StatusCancelFailed},
	}}

	rec := do(t, svc, http.MethodGet, "/payments/m1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"CANCEL_FAILED"`)

	rec = do(t, svc, http.MethodGet, "/payments/m1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Less(t, strings.Index(body, `"PAID"`), strings.Index(body, `"CANCEL_FAILED"`))

	rec = do(t, svc, http.MethodGet, "/payments/m404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, &stubService{err: errors.New("pool closed")}, http.MethodGet, "/payments/m1/history", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := do(t, &stubService{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"payment-service"}`, rec.Body.String())
}
