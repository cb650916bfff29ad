package rabbitmq

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gridwatch/models"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// Report lifecycle routing key suffixes
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// ReportEvent is the message published for every report mutation
type ReportEvent struct {
	Event     string         `json:"event"`
	ReportID  string         `json:"report_id"`
	UserID    string         `json:"user_id"`
	Report    *models.Report `json:"report,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// channel is the part of *amqp.Channel the publisher uses
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends report events to a direct exchange
type Publisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    channel
	exchange   string
	routingKey string
}

// NewPublisher connects to RabbitMQ and declares the exchange
func NewPublisher(amqpURL, exchangeName, routingKey string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:       conn,
		channel:    ch,
		exchange:   exchangeName,
		routingKey: routingKey,
	}, nil
}

// Publish sends a JSON message with routing key <routingKey>.<event>
func (p *Publisher) Publish(event string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Publish(p.exchange, p.routingKey+"."+event, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishReport publishes a report lifecycle event. Failures are logged, never returned:
// the report is already stored.
func (p *Publisher) PublishReport(event string, userID, reportID string, report *models.Report) {
	if p == nil {
		return
	}
	msg := ReportEvent{
		Event:     event,
		ReportID:  reportID,
		UserID:    userID,
		Report:    report,
		Timestamp: time.Now().UTC(),
	}
	if err := p.Publish(event, msg); err != nil {
		log.Errorf("Failed to publish %s event for report %s: %v", event, reportID, err)
		return
	}
	log.Debugf("Published %s event for report %s", event, reportID)
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	var err error

	if p.channel != nil {
		if channelErr := p.channel.Close(); channelErr != nil {
			log.Errorf("Failed to close channel: %v", channelErr)
			err = channelErr
		}
	}

	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			log.Errorf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
	}

	return err
}
