package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmehra2102/delivery-settlement/pkg/channel"
)

// PaymentTopicPattern matches every payment outcome topic on the Event Channel.
const PaymentTopicPattern = "payment-*-event"

const (
	TopicOrderPaymentRequested = "order-payment-requested-event"
	TopicOrderCancel           = "order-cancel-event"
	TopicPaymentCompleted      = "payment-completed-event"
	TopicPaymentFailed         = "payment-failed-event"
	TopicPaymentCancelSuccess  = "payment-cancel-success-event"
	TopicPaymentCancelFailed   = "payment-cancel-failed-event"
)

var (
	ErrUnknownTopic     = errors.New("unknown topic")
	ErrMalformedPayload = errors.New("malformed payload")
)

var topics = map[Kind]string{
	KindOrderPaymentRequested: TopicOrderPaymentRequested,
	KindOrderCancel:           TopicOrderCancel,
	KindPaymentSuccess:        TopicPaymentCompleted,
	KindPaymentFailed:         TopicPaymentFailed,
	KindPaymentCancelSuccess:  TopicPaymentCancelSuccess,
	KindPaymentCancelFailed:   TopicPaymentCancelFailed,
}

var kinds = func() map[string]Kind {
	m := make(map[string]Kind, len(topics))
	for k, t := range topics {
		m[t] = k
	}
	return m
}()

func (k Kind) Topic() string { return topics[k] }

func ParseTopic(topic string) (Kind, error) {
	k, ok := kinds[topic]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return k, nil
}

// IsPaymentOutcome reports whether topic is one of the four topics the Channel Bridge
// may publish.
func IsPaymentOutcome(topic string) bool {
	k, err := ParseTopic(topic)
	if err != nil {
		return false
	}
	return k >= KindPaymentSuccess && channel.Match(PaymentTopicPattern, topic)
}

// Encode serializes ev as the flat JSON body carried on its topic.
func Encode(ev Event) (string, []byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, err
	}
	return ev.Kind().Topic(), payload, nil
}

// Decode turns a topic and its raw payload into the matching event.
func Decode(topic string, payload []byte) (Event, error) {
	kind, err := ParseTopic(topic)
	if err != nil {
		return nil, err
	}

	var ev Event
	switch kind {
	case KindOrderPaymentRequested:
		var e OrderPaymentRequested
		err = unmarshal(payload, &e)
		ev = e
	case KindOrderCancel:
		var e OrderCancel
		err = checkPublisher(unmarshal(payload, &e), e.Publisher)
		ev = e
	case KindPaymentSuccess:
		var e PaymentSuccess
		err = unmarshal(payload, &e)
		ev = e
	case KindPaymentFailed:
		var e PaymentFailed
		err = unmarshal(payload, &e)
		ev = e
	case KindPaymentCancelSuccess:
		var e PaymentCancelSuccess
		err = checkPublisher(unmarshal(payload, &e), e.Publisher)
		ev = e
	case KindPaymentCancelFailed:
		var e PaymentCancelFailed
		err = unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, topic, err)
	}
	if ev.CorrelationID() == "" {
		return nil, fmt.Errorf("%w: %s: missing merchantUid", ErrMalformedPayload, topic)
	}
	return ev, nil
}

func unmarshal(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}

func checkPublisher(err error, p Publisher) error {
	if err == nil && !p.Valid() {
		return fmt.Errorf("invalid publisher %q", p)
	}
	return err
}

// UnmarshalJSON also accepts the legacy "merchantId" field some producers still send.
func (e *PaymentCancelFailed) UnmarshalJSON(b []byte) error {
	var raw struct {
		MerchantUID string `json:"merchantUid"`
		MerchantID  string `json:"merchantId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.MerchantUID = raw.MerchantUID
	if e.MerchantUID == "" {
		e.MerchantUID = raw.MerchantID
	}
	return nil
}
