package events

import (
	"encoding/json"
	"log"

	"github.com/laik/xnet/internal/config"
	"github.com/laik/xnet/internal/model"

	"github.com/nats-io/nats.go"
)

// Publisher is responsible for publishing flow events to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// Publish serializes a FlowEvent to JSON and publishes it to the configured
// NATS subject.
func (p *Publisher) Publish(ev model.FlowEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
