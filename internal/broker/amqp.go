package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const amqpDialTimeout = 10 * time.Second

// AMQPDriver talks to RabbitMQ over the default exchange.
type AMQPDriver struct {
	conn   *amqp.Connection
	logger *zap.Logger

	pubMu sync.Mutex
	pub   *amqp.Channel
}

var _ Driver = (*AMQPDriver)(nil)

// DialAMQP returns a Dialer for url.
func DialAMQP(url string, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (Driver, error) {
		conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(amqpDialTimeout)})
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		pub, err := conn.Channel()
		if err != nil {
			return nil, closeAfter(conn, fmt.Errorf("open publish channel: %w", err))
		}
		if err := pub.Confirm(false); err != nil {
			return nil, closeAfter(conn, fmt.Errorf("enable publisher confirms: %w", err))
		}
		if logger == nil {
			logger = zap.L()
		}
		return &AMQPDriver{conn: conn, pub: pub, logger: logger}, nil
	}
}

func closeAfter(conn *amqp.Connection, err error) error {
	if closeErr := conn.Close(); closeErr != nil {
		return multierror.Append(err, closeErr)
	}
	return err
}

func (d *AMQPDriver) Declare(ctx context.Context, queue string) error {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	if _, err := d.pub.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	return nil
}

// Publish sends a persistent message and waits for the broker confirm.
func (d *AMQPDriver) Publish(ctx context.Context, queue string, body []byte) error {
	d.pubMu.Lock()
	confirm, err := d.pub.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	d.pubMu.Unlock()
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return errors.New("broker nacked publish")
	}
	return nil
}

// Consume uses a dedicated channel with prefetch 1 and manual acknowledgements.
func (d *AMQPDriver) Consume(ctx context.Context, queue string, h Handler) error {
	ch, err := d.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%s deliveries closed: %w", queue, ErrUnavailable)
			}
			if err := h(ctx, delivery.Body); err != nil {
				d.logger.Warn("handler failed, requeueing", zap.String("queue", queue), zap.Error(err))
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					return fmt.Errorf("nack: %w", nackErr)
				}
				continue
			}
			if ackErr := delivery.Ack(false); ackErr != nil {
				return fmt.Errorf("ack: %w", ackErr)
			}
		}
	}
}

func (d *AMQPDriver) Close() error {
	var result *multierror.Error
	d.pubMu.Lock()
	if err := d.pub.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		result = multierror.Append(result, err)
	}
	d.pubMu.Unlock()
	if err := d.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
