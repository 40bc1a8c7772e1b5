/**
 * @description
 * This package wraps the RabbitMQ client for the platform. The producer puts
 * its channel in confirm mode: Publish only returns nil after the broker
 * acknowledges the message, which is what lets the outbox relay flip an entry
 * to published. A timed-out or nacked publish leaves the entry pending and it
 * is retried; duplicates are resolved by consumer-side dedup.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */

package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 10 * time.Second

var ErrPublishNacked = errors.New("broker nacked publish")

// Producer publishes platform events on a durable topic exchange.
type Producer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

// NewProducer dials the broker, declares the exchange, and enables publisher
// confirms on the channel.
func NewProducer(amqpURL, exchange string) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, err
	}

	channel, err := openConfirmChannel(conn, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Producer{conn: conn, channel: channel, exchange: exchange}, nil
}

func openConfirmChannel(conn *amqp.Connection, exchange string) (*amqp.Channel, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, err
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return nil, err
	}
	return channel, nil
}

// Publish sends one event and waits for the broker acknowledgment. eventID is
// carried as the AMQP MessageId so bus-level tooling can correlate deliveries
// with outbox entries.
func (p *Producer) Publish(ctx context.Context, routingKey string, eventID string, body []byte) error {
	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    eventID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		// One-shot channel reopen, then retry; a second failure surfaces.
		if p.conn != nil && !p.conn.IsClosed() {
			if channel, chErr := openConfirmChannel(p.conn, p.exchange); chErr == nil {
				p.channel.Close()
				p.channel = channel
				confirmation, err = p.channel.PublishWithDeferredConfirmWithContext(ctx,
					p.exchange, routingKey, false, false,
					amqp.Publishing{
						ContentType:  "application/json",
						DeliveryMode: amqp.Persistent,
						MessageId:    eventID,
						Timestamp:    time.Now(),
						Body:         body,
					},
				)
			}
		}
		if err != nil {
			return err
		}
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

// Close gracefully closes the channel and connection.
func (p *Producer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
