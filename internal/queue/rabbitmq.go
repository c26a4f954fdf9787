package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/RezaEskandarii/jobcore/types"
	"github.com/RezaEskandarii/jobcore/types/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Queue = (*RabbitMQQueue)(nil)

const rabbitPrefetch = 16

// RabbitMQQueue publishes ids as persistent messages to a durable queue.
// Deliveries are acknowledged when handed to a worker; a worker that dies
// afterwards is covered by lease expiry, not by redelivery.
type RabbitMQQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queueName  string
	exchange   string
	routingKey string

	consumeOnce sync.Once
	deliveries  <-chan amqp.Delivery
	consumeErr  error

	closeOnce sync.Once
	done      chan struct{}
}

// NewRabbitMQQueue dials cfg.URL and declares the queue. When cfg.Exchange is
// set, a durable direct exchange is declared and bound with the queue name as
// routing key; otherwise messages go through the default exchange.
func NewRabbitMQQueue(cfg config.RabbitMQConfig) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	fail := func(err error) (*RabbitMQQueue, error) {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(
			cfg.Exchange,
			"direct",
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fail(err)
		}
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fail(err)
	}

	if cfg.Exchange != "" {
		if err := ch.QueueBind(
			cfg.Queue,
			cfg.Queue,
			cfg.Exchange,
			false,
			nil,
		); err != nil {
			return fail(err)
		}
	}

	if err := ch.Qos(rabbitPrefetch, 0, false); err != nil {
		return fail(err)
	}

	return &RabbitMQQueue{
		conn:       conn,
		channel:    ch,
		queueName:  cfg.Queue,
		exchange:   cfg.Exchange,
		routingKey: cfg.Queue,
		done:       make(chan struct{}),
	}, nil
}

func (r *RabbitMQQueue) Enqueue(ctx context.Context, id types.JobID) error {
	select {
	case <-r.done:
		return ErrQueueClosed
	default:
	}

	return r.channel.PublishWithContext(ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Body:         []byte(id),
		},
	)
}

func (r *RabbitMQQueue) Dequeue(ctx context.Context) (types.JobID, error) {
	r.consumeOnce.Do(func() {
		r.deliveries, r.consumeErr = r.channel.Consume(
			r.queueName,
			"",
			false,
			false,
			false,
			false,
			nil,
		)
	})
	if r.consumeErr != nil {
		return "", fmt.Errorf("rabbitmq consume: %w", r.consumeErr)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return "", ErrQueueClosed
	case msg, ok := <-r.deliveries:
		if !ok {
			return "", ErrQueueClosed
		}
		if err := msg.Ack(false); err != nil {
			return "", fmt.Errorf("rabbitmq ack: %w", err)
		}
		return types.JobID(msg.Body), nil
	}
}

func (r *RabbitMQQueue) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if err = r.channel.Close(); err != nil {
			_ = r.conn.Close()
			return
		}
		err = r.conn.Close()
	})
	return err
}
