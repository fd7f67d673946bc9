package bootstrap

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kavindya12/soa-microservices-platform/internal/broker"
	"github.com/kavindya12/soa-microservices-platform/internal/saga"
	"github.com/kavindya12/soa-microservices-platform/internal/workflow"
)

// JanitorInterval is how often expired grants, tokens, contexts and tracker records are swept.
const JanitorInterval = time.Minute

// TokenPurger drops expired OAuth state.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// StartSaga connects the broker in the background and then runs the workflow consumers.
// HTTP keeps serving while the broker is unreachable. When the consumers lose the
// connection the gateway is marked disconnected and redialed; once redialing is
// exhausted the saga stays down and /place-order answers 503.
func StartSaga(lc fx.Lifecycle, gateway *broker.Gateway, orchestrator *saga.Orchestrator, logger *zap.Logger) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				defer close(done)
				runSaga(runCtx, gateway, orchestrator, logger)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done != nil {
				select {
				case <-done:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return gateway.Close()
		},
	})
}

func runSaga(ctx context.Context, gateway *broker.Gateway, orchestrator *saga.Orchestrator, logger *zap.Logger) {
	if err := gateway.Connect(ctx); err != nil {
		logger.Error("workflow consumers not started", zap.Error(err))
		return
	}
	for {
		err := orchestrator.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("workflow consumers lost the broker, reconnecting", zap.Error(err))
		if err := gateway.Reconnect(ctx); err != nil {
			logger.Error("workflow consumers stopped", zap.Error(err))
			return
		}
	}
}

// StartJanitors runs the periodic sweeps for bounded retention.
func StartJanitors(lc fx.Lifecycle, tokens TokenPurger, store workflow.Store, tracker *saga.Tracker, logger *zap.Logger) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop

			go workflow.RunJanitor(runCtx, "oauth", JanitorInterval, tokens.PurgeExpired, logger)
			go workflow.RunJanitor(runCtx, "saga_tracker", JanitorInterval, tracker.Evict, logger)
			if s, ok := store.(sweeper); ok {
				go workflow.RunJanitor(runCtx, "workflow_context", JanitorInterval, s.Sweep, logger)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
