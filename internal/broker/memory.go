package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const memoryQueueDepth = 1024

// MemoryDriver is an in-process transport for development and tests.
type MemoryDriver struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	closed chan struct{}
	once   sync.Once
	logger *zap.Logger
}

var _ Driver = (*MemoryDriver)(nil)

// NewMemoryDriver returns an empty in-process transport.
func NewMemoryDriver(logger *zap.Logger) *MemoryDriver {
	if logger == nil {
		logger = zap.L()
	}
	return &MemoryDriver{
		queues: make(map[string]chan []byte),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// DialMemory returns a Dialer that always yields d.
func DialMemory(d *MemoryDriver) Dialer {
	return func(context.Context) (Driver, error) { return d, nil }
}

func (d *MemoryDriver) queue(name string) chan []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[name]
	if !ok {
		q = make(chan []byte, memoryQueueDepth)
		d.queues[name] = q
	}
	return q
}

func (d *MemoryDriver) Declare(ctx context.Context, queue string) error {
	d.queue(queue)
	return nil
}

func (d *MemoryDriver) Publish(ctx context.Context, queue string, body []byte) error {
	msg := append([]byte(nil), body...)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closed:
		return ErrUnavailable
	case d.queue(queue) <- msg:
		return nil
	}
}

func (d *MemoryDriver) Consume(ctx context.Context, queue string, h Handler) error {
	q := d.queue(queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.closed:
			return ErrUnavailable
		case body := <-q:
			if err := h(ctx, body); err != nil {
				d.logger.Warn("handler failed, requeueing", zap.String("queue", queue), zap.Error(err))
				select {
				case q <- body:
				default:
					d.logger.Error("queue full, dropping message", zap.String("queue", queue))
				}
			}
		}
	}
}

// Pending reports the number of undelivered messages on queue.
func (d *MemoryDriver) Pending(queue string) int {
	return len(d.queue(queue))
}

func (d *MemoryDriver) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}
