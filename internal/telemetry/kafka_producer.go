// Package telemetry forwards location fixes outward. Forwarding is
// best-effort: a failed publish never blocks the dispatch flow.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w}
}

func (p *Producer) PublishFix(partyID string, fix models.LocationFix) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(struct {
		PartyID string             `json:"party_id"`
		Fix     models.LocationFix `json:"fix"`
	}{partyID, fix})
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(partyID), Value: b})
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
