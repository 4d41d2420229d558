package channel

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/order/application"
	pubsub "github.com/dmehra2102/delivery-settlement/pkg/channel"
)

const NotificationTopicPrefix = "order-notification-"

type Notifier struct {
	log *zap.Logger
	pub pubsub.Publisher
}

func NewNotifier(log *zap.Logger, pub pubsub.Publisher) *Notifier {
	return &Notifier{log: log, pub: pub}
}

func (n *Notifier) Notify(ctx context.Context, note application.Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return err
	}
	topic := NotificationTopicPrefix + string(note.Audience)
	if err := n.pub.Publish(ctx, topic, payload); err != nil {
		return err
	}
	n.log.Debug("notification published", zap.String("topic", topic), zap.String("merchant_uid", note.MerchantUID))
	return nil
}
