package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/kavindya12/soa-microservices-platform/internal/broker"
	"github.com/kavindya12/soa-microservices-platform/internal/domain"
	"github.com/kavindya12/soa-microservices-platform/internal/saga"
	"github.com/kavindya12/soa-microservices-platform/internal/workflow"
)

type countingPurger struct{ calls atomic.Int32 }

func (p *countingPurger) PurgeExpired(context.Context) (int, error) {
	p.calls.Add(1)
	return 0, nil
}

func TestStartSagaConnectsAndClosesGateway(t *testing.T) {
	driver := broker.NewMemoryDriver(zap.NewNop())
	gateway := broker.NewGateway(broker.DialMemory(driver), 1, 0, zap.NewNop())
	store := workflow.NewMemoryStore(time.Hour)
	orch := saga.NewOrchestrator(gateway, store, saga.NewTracker(time.Hour), nil, zap.NewNop())

	lc := fxtest.NewLifecycle(t)
	StartSaga(lc, gateway, orch, zap.NewNop())
	StartJanitors(lc, &countingPurger{}, store, saga.NewTracker(time.Hour), zap.NewNop())

	lc.RequireStart()
	require.Eventually(t, gateway.Connected, time.Second, 5*time.Millisecond)
	lc.RequireStop()
	require.False(t, gateway.Connected())
}

type droppedDriver struct{}

func (droppedDriver) Declare(context.Context, string) error { return nil }

func (droppedDriver) Publish(context.Context, string, []byte) error {
	return errors.New("channel not open")
}

func (droppedDriver) Consume(context.Context, string, broker.Handler) error {
	return broker.ErrUnavailable
}

func (droppedDriver) Close() error { return nil }

func TestStartSagaMarksGatewayDisconnectedWhenConsumersDrop(t *testing.T) {
	var dials atomic.Int32
	dial := func(context.Context) (broker.Driver, error) {
		if dials.Add(1) == 1 {
			return droppedDriver{}, nil
		}
		return nil, errors.New("connection refused")
	}
	gateway := broker.NewGateway(dial, 2, time.Millisecond, zap.NewNop())
	collab := &recordingCollaborators{}
	orch := saga.NewOrchestrator(gateway, workflow.NewMemoryStore(time.Hour), saga.NewTracker(time.Hour), collab, zap.NewNop())

	lc := fxtest.NewLifecycle(t)
	StartSaga(lc, gateway, orch, zap.NewNop())
	lc.RequireStart()
	defer lc.RequireStop()

	require.Eventually(t, func() bool { return dials.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.Never(t, gateway.Connected, 50*time.Millisecond, 5*time.Millisecond)

	err := orch.PlaceOrder(context.Background(), domain.WorkflowOrder{ID: "W1", Item: "P1", Quantity: 1})
	require.ErrorIs(t, err, broker.ErrUnavailable)
	require.Zero(t, collab.created.Load())
}

func TestStartSagaReconnectsAfterConsumersDrop(t *testing.T) {
	memory := broker.NewMemoryDriver(zap.NewNop())
	var dials atomic.Int32
	dial := func(context.Context) (broker.Driver, error) {
		if dials.Add(1) == 1 {
			return droppedDriver{}, nil
		}
		return memory, nil
	}
	gateway := broker.NewGateway(dial, 1, time.Millisecond, zap.NewNop())
	orch := saga.NewOrchestrator(gateway, workflow.NewMemoryStore(time.Hour), saga.NewTracker(time.Hour), &recordingCollaborators{}, zap.NewNop())

	lc := fxtest.NewLifecycle(t)
	StartSaga(lc, gateway, orch, zap.NewNop())
	lc.RequireStart()

	require.Eventually(t, func() bool { return dials.Load() == 2 && gateway.Connected() }, time.Second, 5*time.Millisecond)
	require.NoError(t, gateway.Publish(context.Background(), broker.PaymentCommandQueue, []byte(`{}`)))

	lc.RequireStop()
	require.False(t, gateway.Connected())
}

type recordingCollaborators struct{ created atomic.Int32 }

func (r *recordingCollaborators) CreateOrder(ctx context.Context, order domain.WorkflowOrder) (json.RawMessage, error) {
	r.created.Add(1)
	return json.RawMessage(`{}`), nil
}

func (r *recordingCollaborators) GetOrder(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (r *recordingCollaborators) GetPayment(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (r *recordingCollaborators) GetShipping(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (r *recordingCollaborators) UpdateStock(context.Context, string, int) error { return nil }
