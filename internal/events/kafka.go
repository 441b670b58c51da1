package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/fixaren/backoffice/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON messages keyed by deal id, so all
// events for one deal land on the same partition in order.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaWriter builds a synchronous writer for the configured topic.
// SASL/SCRAM over TLS is used when credentials are set.
func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  5,
		RequiredAcks: kafka.RequireOne,
	}
	if cfg.Username != "" {
		mechanism, err := scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("events: kafka sasl mechanism: %w", err)
		}
		w.Transport = &kafka.Transport{
			SASL: mechanism,
			TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return w, nil
}

// NewKafkaSink wraps a writer.
func NewKafkaSink(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka" }

// Publish implements Sink.
func (k *KafkaSink) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.DealID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
			{Key: "tenant-id", Value: []byte(ev.TenantID)},
		},
		Time: ev.OccurredAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
