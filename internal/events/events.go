// Package events is the catalog of settlement domain events exchanged between the order
// and payment services, together with their wire contract.
//
// The set of events is closed: Event can only be implemented inside this package, and
// every Kind maps to exactly one topic. Adding a kind means extending Kind, topics, and
// the switches in Decode and in every consumer.
package events

import "fmt"

type Kind int

const (
	KindOrderPaymentRequested Kind = iota + 1
	KindOrderCancel
	KindPaymentSuccess
	KindPaymentFailed
	KindPaymentCancelSuccess
	KindPaymentCancelFailed
)

func (k Kind) String() string {
	switch k {
	case KindOrderPaymentRequested:
		return "OrderPaymentRequested"
	case KindOrderCancel:
		return "OrderCancel"
	case KindPaymentSuccess:
		return "PaymentSuccess"
	case KindPaymentFailed:
		return "PaymentFailed"
	case KindPaymentCancelSuccess:
		return "PaymentCancelSuccess"
	case KindPaymentCancelFailed:
		return "PaymentCancelFailed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Publisher tags who initiated a cancellation.
type Publisher string

const (
	PublisherCustomer Publisher = "CUSTOMER"
	PublisherSeller   Publisher = "SELLER"
	PublisherSystem   Publisher = "SYSTEM"
)

func (p Publisher) Valid() bool {
	switch p {
	case PublisherCustomer, PublisherSeller, PublisherSystem:
		return true
	}
	return false
}

type Event interface {
	Kind() Kind
	// CorrelationID is the merchantUid tying the event to one order and its payments.
	CorrelationID() string
	sealed()
}

// OrderSnapshot is the order state captured when an order event was emitted.
type OrderSnapshot struct {
	OrderID     int64  `json:"orderId"`
	MerchantUID string `json:"merchantUid"`
	CustomerID  int64  `json:"customerId"`
	StoreID     int64  `json:"storeId"`
	TotalPrice  int64  `json:"totalPrice"`
	Status      string `json:"status"`
}

type OrderPaymentRequested struct {
	Order      OrderSnapshot `json:"order"`
	PaymentKey string        `json:"paymentKey"`
}

type OrderCancel struct {
	Order     OrderSnapshot `json:"order"`
	Reason    string        `json:"reason"`
	Publisher Publisher     `json:"publisher"`
}

type PaymentSuccess struct {
	MerchantUID string `json:"merchantUid"`
}

type PaymentFailed struct {
	MerchantUID string `json:"merchantUid"`
}

type PaymentCancelSuccess struct {
	MerchantUID string    `json:"merchantUid"`
	Publisher   Publisher `json:"publisher"`
}

type PaymentCancelFailed struct {
	MerchantUID string `json:"merchantUid"`
}

func (OrderPaymentRequested) Kind() Kind { return KindOrderPaymentRequested }
func (OrderCancel) Kind() Kind { return KindOrderCancel }
func (PaymentSuccess) Kind() Kind { return KindPaymentSuccess }
func (PaymentFailed) Kind() Kind { return KindPaymentFailed }
func (PaymentCancelSuccess) Kind() Kind { return KindPaymentCancelSuccess }
func (PaymentCancelFailed) Kind() Kind { return KindPaymentCancelFailed }

func (e OrderPaymentRequested) CorrelationID() string { return e.Order.MerchantUID }
func (e OrderCancel) CorrelationID() string { return e.Order.MerchantUID }
func (e PaymentSuccess) CorrelationID() string { return e.MerchantUID }
func (e PaymentFailed) CorrelationID() string { return e.MerchantUID }
func (e PaymentCancelSuccess) CorrelationID() string { return e.MerchantUID }
func (e PaymentCancelFailed) CorrelationID() string { return e.MerchantUID }

func (OrderPaymentRequested) sealed() {}
func (OrderCancel) sealed() {}
func (PaymentSuccess) sealed() {}
func (PaymentFailed) sealed() {}
func (PaymentCancelSuccess) sealed() {}
func (PaymentCancelFailed) sealed() {}
