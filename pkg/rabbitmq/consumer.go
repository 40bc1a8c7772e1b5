/**
 * @description
 * Consumer side of the platform's event bus. A service declares its durable
 * queue, binds it to the topic exchange under the routing keys it cares
 * about, and supplies one handler per binding. Handlers return true to ack
 * and false to nack-with-requeue; the broker redelivers nacked messages, and
 * the consumer's dedup store makes the redelivery harmless.
 */

package rabbitmq

import (
	"fmt"
	"log"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. Returning false requeues the message.
type Handler func(body []byte) bool

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	// Bound in-flight deliveries per worker; keeps one slow effect from
	// hoarding the queue.
	if err := ch.Qos(16, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares the queue, binds every routing key, and starts
// the delivery loop on a goroutine. Binding keys may use AMQP topic wildcards
// ("transaction.*"); dispatch matches the delivery's concrete key against the
// binding patterns.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	queue, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	patterns := make([]string, 0, len(bindings))
	for pattern, handler := range bindings {
		if handler == nil {
			continue
		}
		patterns = append(patterns, pattern)
		if err := c.ch.QueueBind(queue.Name, pattern, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for delivery := range deliveries {
			handler := matchHandler(bindings, patterns, delivery.RoutingKey)
			if handler == nil {
				log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key; dropping\" queue=%s routing_key=%s", queueName, delivery.RoutingKey)
				delivery.Ack(false)
				continue
			}
			if handler(delivery.Body) {
				delivery.Ack(false)
			} else {
				log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; requeuing\" queue=%s routing_key=%s", queueName, delivery.RoutingKey)
				delivery.Nack(false, true)
			}
		}
	}()

	return nil
}

func matchHandler(bindings map[string]Handler, patterns []string, routingKey string) Handler {
	if handler, ok := bindings[routingKey]; ok {
		return handler
	}
	for _, pattern := range patterns {
		if topicMatch(pattern, routingKey) {
			return bindings[pattern]
		}
	}
	return nil
}

// topicMatch implements AMQP topic matching for the subset the platform uses:
// "*" matches exactly one word, "#" matches zero or more.
func topicMatch(pattern, key string) bool {
	pp := strings.Split(pattern, ".")
	kp := strings.Split(key, ".")
	return matchParts(pp, kp)
}

func matchParts(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchParts(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchParts(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchParts(pattern[1:], key[1:])
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
