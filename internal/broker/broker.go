package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Durable queues used by the order workflow.
const (
	OrderInitiationQueue   = "order_initiation_queue"
	PaymentCommandQueue    = "payment_command_queue"
	ShippingCommandQueue   = "shipping_command_queue"
	PaymentCompletedQueue  = "payment_completed_queue"
	ShippingCompletedQueue = "shipping_completed_queue"
)

// Queues lists every queue declared on connect.
var Queues = []string{
	OrderInitiationQueue,
	PaymentCommandQueue,
	ShippingCommandQueue,
	PaymentCompletedQueue,
	ShippingCompletedQueue,
}

// ErrUnavailable is returned while no broker connection is established.
var ErrUnavailable = errors.New("broker: unavailable")

// Handler processes one message body. A nil error acknowledges the message;
// any error hands it back to the broker for redelivery.
type Handler func(ctx context.Context, body []byte) error

// Driver is a connected transport.
type Driver interface {
	Declare(ctx context.Context, queue string) error
	Publish(ctx context.Context, queue string, body []byte) error
	// Consume delivers messages one at a time until ctx is done or the connection drops.
	Consume(ctx context.Context, queue string, h Handler) error
	Close() error
}

// Dialer opens a Driver.
type Dialer func(ctx context.Context) (Driver, error)

// Gateway owns the broker connection, retries bring-up and guards use while disconnected.
type Gateway struct {
	dial     Dialer
	attempts int
	delay    time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	driver Driver
}

// NewGateway constructs a Gateway. Connect must be called before publishing.
func NewGateway(dial Dialer, attempts int, delay time.Duration, logger *zap.Logger) *Gateway {
	if attempts < 1 {
		attempts = 1
	}
	return &Gateway{dial: dial, attempts: attempts, delay: delay, logger: logger}
}

// Connect dials with a fixed number of attempts and a fixed delay, declaring every queue.
// On exhaustion the gateway stays disconnected and the error wraps ErrUnavailable.
func (g *Gateway) Connect(ctx context.Context) error {
	var attemptErrs *multierror.Error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		driver, err := g.open(ctx)
		if err == nil {
			g.mu.Lock()
			g.driver = driver
			g.mu.Unlock()
			g.log().Info("broker connected", zap.Int("attempt", attempt))
			return nil
		}
		attemptErrs = multierror.Append(attemptErrs, fmt.Errorf("attempt %d: %w", attempt, err))
		g.log().Warn("broker connect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.attempts),
			zap.Error(err),
		)
		if attempt == g.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		case <-time.After(g.delay):
		}
	}
	g.log().Error("broker unreachable, continuing without consumers", zap.Int("attempts", g.attempts))
	return fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, g.attempts, attemptErrs.ErrorOrNil())
}

func (g *Gateway) open(ctx context.Context) (Driver, error) {
	driver, err := g.dial(ctx)
	if err != nil {
		return nil, err
	}
	for _, q := range Queues {
		if err := driver.Declare(ctx, q); err != nil {
			var result *multierror.Error
			result = multierror.Append(result, fmt.Errorf("declare %s: %w", q, err))
			if closeErr := driver.Close(); closeErr != nil {
				result = multierror.Append(result, closeErr)
			}
			return nil, result.ErrorOrNil()
		}
	}
	return driver, nil
}

// Connected reports whether a driver is available.
func (g *Gateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.driver != nil
}

func (g *Gateway) current() (Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.driver == nil {
		return nil, ErrUnavailable
	}
	return g.driver, nil
}

// Publish sends body to queue with persistent delivery.
func (g *Gateway) Publish(ctx context.Context, queue string, body []byte) error {
	driver, err := g.current()
	if err != nil {
		return err
	}
	if err := driver.Publish(ctx, queue, body); err != nil {
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// PublishJSON encodes v as JSON and publishes it.
func (g *Gateway) PublishJSON(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", queue, err)
	}
	return g.Publish(ctx, queue, body)
}

// Consume blocks delivering queue messages to h.
func (g *Gateway) Consume(ctx context.Context, queue string, h Handler) error {
	driver, err := g.current()
	if err != nil {
		return err
	}
	return driver.Consume(ctx, queue, h)
}

// Reconnect marks the gateway disconnected, waits one retry delay and dials again
// with the Connect policy. Callers see ErrUnavailable until a new driver is up.
func (g *Gateway) Reconnect(ctx context.Context) error {
	if err := g.Close(); err != nil {
		g.log().Warn("closing lost broker connection", zap.Error(err))
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case <-time.After(g.delay):
	}
	return g.Connect(ctx)
}

// Close releases the connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	driver := g.driver
	g.driver = nil
	g.mu.Unlock()
	if driver == nil {
		return nil
	}
	return driver.Close()
}

func (g *Gateway) log() *zap.Logger {
	if g.logger != nil {
		return g.logger
	}
	return zap.L()
}
