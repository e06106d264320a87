// Package notify delivers driver and admin notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleet-routing-service/internal/domain"
	"fleet-routing-service/internal/platform/obs"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultTopic = "fleet.notifications"
	source       = "fleet-routing-service"
	// adminKey partitions admin notifications together.
	adminKey = "admin"
)

// Event is the CloudEvents-style envelope published for every notification.
type Event struct {
	ID       string                  `json:"id"`
	Source   string                  `json:"source"`
	Type     domain.NotificationType `json:"type"`
	Time     time.Time               `json:"time"`
	DriverID string                  `json:"driver_id,omitempty"`
	Admin    bool                    `json:"admin,omitempty"`
	Data     map[string]any          `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaNotifier publishes notifications to a Kafka topic, keyed by driver
// so one driver's events stay ordered.
type KafkaNotifier struct {
	writer messageWriter
	log    *zap.Logger
	now    func() time.Time
}

func NewKafkaNotifier(brokers []string, topic string, log *zap.Logger) *KafkaNotifier {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaNotifier(w, log)
}

func newKafkaNotifier(w messageWriter, log *zap.Logger) *KafkaNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaNotifier{writer: w, log: log, now: time.Now}
}

func (n *KafkaNotifier) NotifyDriver(ctx context.Context, driverID string, kind domain.NotificationType, payload map[string]any) error {
	return n.publish(ctx, driverID, Event{DriverID: driverID, Type: kind, Data: payload})
}

func (n *KafkaNotifier) NotifyAdmin(ctx context.Context, kind domain.NotificationType, payload map[string]any) error {
	return n.publish(ctx, adminKey, Event{Admin: true, Type: kind, Data: payload})
}

func (n *KafkaNotifier) publish(ctx context.Context, key string, evt Event) (err error) {
	defer obs.Time(ctx, n.log, "notify.kafka.publish")(&err)

	evt.ID = uuid.NewString()
	evt.Source = source
	evt.Time = n.now().UTC()
	if evt.Data == nil {
		evt.Data = map[string]any{}
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify %s: encode: %w", evt.Type, err)
	}

	msg := kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "ce_type", Value: []byte(evt.Type)},
			{Key: "ce_id", Value: []byte(evt.ID)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify %s: publish: %w", evt.Type, err)
	}
	obs.Notifications.WithLabelValues(string(evt.Type)).Inc()
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier only logs notifications. Used when no broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyDriver(_ context.Context, driverID string, kind domain.NotificationType, payload map[string]any) error {
	n.log.Info("driver notification",
		zap.String("driver_id", driverID), zap.String("type", string(kind)), zap.Any("data", payload))
	obs.Notifications.WithLabelValues(string(kind)).Inc()
	return nil
}

func (n *LogNotifier) NotifyAdmin(_ context.Context, kind domain.NotificationType, payload map[string]any) error {
	n.log.Info("admin notification", zap.String("type", string(kind)), zap.Any("data", payload))
	obs.Notifications.WithLabelValues(string(kind)).Inc()
	return nil
}
