package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kavindya12/soa-microservices-platform/internal/broker"
	"github.com/kavindya12/soa-microservices-platform/internal/domain"
	"github.com/kavindya12/soa-microservices-platform/internal/workflow"
)

// Reasons recorded on failed workflows.
const (
	ReasonPaymentFailed  = "payment_failed"
	ReasonShippingFailed = "shipping_failed"
)

// ErrOrderRejected wraps a failed Orders call during placement.
var ErrOrderRejected = errors.New("saga: order creation failed")

// Bus is the broker surface the orchestrator needs.
type Bus interface {
	Connected() bool
	Publish(ctx context.Context, queue string, body []byte) error
	Consume(ctx context.Context, queue string, h broker.Handler) error
}

// Collaborators are the synchronous downstream services.
type Collaborators interface {
	CreateOrder(ctx context.Context, order domain.WorkflowOrder) (json.RawMessage, error)
	GetOrder(ctx context.Context, orderID string) (json.RawMessage, error)
	GetPayment(ctx context.Context, orderID string) (json.RawMessage, error)
	GetShipping(ctx context.Context, orderID string) (json.RawMessage, error)
	UpdateStock(ctx context.Context, productID string, quantity int) error
}

// Orchestrator drives the order workflow across the payment and shipping services.
type Orchestrator struct {
	bus     Bus
	store   workflow.Store
	tracker *Tracker
	collab  Collaborators
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(bus Bus, store workflow.Store, tracker *Tracker, collab Collaborators, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		bus:     bus,
		store:   store,
		tracker: tracker,
		collab:  collab,
		logger:  logger,
		tracer:  otel.Tracer("orchestrator/saga"),
	}
}

// Run consumes the initiation and outcome queues until ctx is done or a consumer fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	consumers := map[string]broker.Handler{
		broker.OrderInitiationQueue:   o.HandleInitiation,
		broker.PaymentCompletedQueue:  o.HandlePaymentOutcome,
		broker.ShippingCompletedQueue: o.HandleShippingOutcome,
	}
	for queue, handler := range consumers {
		queue, handler := queue, handler
		g.Go(func() error {
			o.log().Info("consumer started", zap.String("queue", queue))
			if err := o.bus.Consume(gctx, queue, handler); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consume %s: %w", queue, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// PlaceOrder creates the order record and enqueues the workflow initiation.
func (o *Orchestrator) PlaceOrder(ctx context.Context, order domain.WorkflowOrder) error {
	ctx, span := o.tracer.Start(ctx, "saga.PlaceOrder", trace.WithAttributes(attribute.String("order.id", order.ID)))
	defer span.End()

	if !o.bus.Connected() {
		span.SetStatus(codes.Error, "broker unavailable")
		return broker.ErrUnavailable
	}
	if _, err := o.collab.CreateOrder(ctx, order); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrOrderRejected, err)
	}
	if err := o.publish(ctx, broker.OrderInitiationQueue, order); err != nil {
		span.RecordError(err)
		return err
	}
	o.log().Info("order placed", zap.String("order_id", order.ID))
	return nil
}

// HandleInitiation stores the workflow context and requests payment.
func (o *Orchestrator) HandleInitiation(ctx context.Context, body []byte) error {
	var order domain.WorkflowOrder
	if err := json.Unmarshal(body, &order); err != nil || order.ID == "" {
		o.drop(broker.OrderInitiationQueue, body, err)
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "saga.HandleInitiation", trace.WithAttributes(attribute.String("workflow.id", order.ID)))
	defer span.End()

	if err := o.tracker.Admit(order.ID, EventInitiation); err != nil {
		o.log().Info("ignoring duplicate initiation", zap.String("workflow_id", order.ID), zap.Error(err))
		return nil
	}
	o.tracker.Commit(order.ID, StateInitiated, "", false)

	if err := o.store.Put(ctx, order); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store workflow %s: %w", order.ID, err)
	}
	if err := o.publish(ctx, broker.PaymentCommandQueue, order); err != nil {
		span.RecordError(err)
		return err
	}
	o.tracker.Commit(order.ID, StatePaymentRequested, "", false)
	o.log().Info("payment requested", zap.String("workflow_id", order.ID))
	return nil
}

// HandlePaymentOutcome requests shipping for a completed payment or ends the workflow.
func (o *Orchestrator) HandlePaymentOutcome(ctx context.Context, body []byte) error {
	var outcome domain.PaymentOutcome
	if err := json.Unmarshal(body, &outcome); err != nil || outcome.OrderID == "" {
		o.drop(broker.PaymentCompletedQueue, body, err)
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "saga.HandlePaymentOutcome", trace.WithAttributes(
		attribute.String("workflow.id", outcome.OrderID),
		attribute.String("payment.status", outcome.Status),
	))
	defer span.End()

	if err := o.tracker.Admit(outcome.OrderID, EventPaymentOutcome); err != nil {
		o.log().Info("ignoring payment outcome", zap.String("workflow_id", outcome.OrderID), zap.Error(err))
		return nil
	}

	switch outcome.Status {
	case domain.OutcomeFailed:
		o.tracker.Commit(outcome.OrderID, StateFailed, ReasonPaymentFailed, false)
		o.release(ctx, outcome.OrderID)
		o.log().Warn("payment failed, workflow halted", zap.String("workflow_id", outcome.OrderID))
		return nil
	case domain.OutcomeCompleted:
	default:
		o.drop(broker.PaymentCompletedQueue, body, fmt.Errorf("unknown status %q", outcome.Status))
		return nil
	}

	stored, err := o.store.Get(ctx, outcome.OrderID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("load workflow %s: %w", outcome.OrderID, err)
	}

	degraded := stored == nil
	var command domain.WorkflowOrder
	if degraded {
		command = domain.WorkflowOrder{ID: outcome.OrderID, Item: outcome.Item, Quantity: outcome.Quantity}
		o.log().Warn("workflow context missing, shipping without address",
			zap.String("workflow_id", outcome.OrderID))
	} else {
		command = *stored
	}

	if err := o.publish(ctx, broker.ShippingCommandQueue, command); err != nil {
		span.RecordError(err)
		return err
	}
	o.tracker.Commit(outcome.OrderID, StateShippingRequested, "", degraded)
	o.log().Info("shipping requested",
		zap.String("workflow_id", outcome.OrderID),
		zap.String("payment_id", outcome.PaymentID),
		zap.Bool("degraded", degraded),
	)
	return nil
}

// HandleShippingOutcome applies the stock decrement for a completed shipment and closes the workflow.
func (o *Orchestrator) HandleShippingOutcome(ctx context.Context, body []byte) error {
	var outcome domain.ShippingOutcome
	if err := json.Unmarshal(body, &outcome); err != nil || outcome.OrderID == "" {
		o.drop(broker.ShippingCompletedQueue, body, err)
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "saga.HandleShippingOutcome", trace.WithAttributes(
		attribute.String("workflow.id", outcome.OrderID),
		attribute.String("shipping.status", outcome.Status),
	))
	defer span.End()

	if err := o.tracker.Admit(outcome.OrderID, EventShippingOutcome); err != nil {
		o.log().Info("ignoring shipping outcome", zap.String("workflow_id", outcome.OrderID), zap.Error(err))
		return nil
	}

	switch outcome.Status {
	case domain.OutcomeFailed:
		reason := ReasonShippingFailed
		if outcome.Error != "" {
			reason = reason + ": " + outcome.Error
		}
		o.tracker.Commit(outcome.OrderID, StateFailed, reason, false)
		o.release(ctx, outcome.OrderID)
		o.log().Warn("shipping failed", zap.String("workflow_id", outcome.OrderID), zap.String("reason", reason))
		return nil
	case domain.OutcomeCompleted:
	default:
		o.drop(broker.ShippingCompletedQueue, body, fmt.Errorf("unknown status %q", outcome.Status))
		return nil
	}

	if !outcome.HasStockUpdate() {
		o.tracker.Commit(outcome.OrderID, StateCompleted, "", false)
		o.release(ctx, outcome.OrderID)
		o.log().Info("workflow completed without stock update", zap.String("workflow_id", outcome.OrderID))
		return nil
	}

	if err := o.collab.UpdateStock(ctx, outcome.ProductID, outcome.Quantity); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock update failed")
		o.tracker.Commit(outcome.OrderID, StateStockUpdateFailed, err.Error(), false)
		o.log().Error("stock update failed",
			zap.String("workflow_id", outcome.OrderID),
			zap.String("product_id", outcome.ProductID),
			zap.Int("quantity", outcome.Quantity),
			zap.Error(err),
		)
	} else {
		o.tracker.Commit(outcome.OrderID, StateCompleted, "", false)
		o.log().Info("workflow completed",
			zap.String("workflow_id", outcome.OrderID),
			zap.String("product_id", outcome.ProductID),
			zap.Int("quantity", outcome.Quantity),
		)
	}
	o.release(ctx, outcome.OrderID)
	return nil
}

// UpdateCatalogStock forwards a manual stock decrement to the catalog.
func (o *Orchestrator) UpdateCatalogStock(ctx context.Context, productID string, quantity int) error {
	ctx, span := o.tracer.Start(ctx, "saga.UpdateCatalogStock", trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("stock.quantity", quantity),
	))
	defer span.End()

	if err := o.collab.UpdateStock(ctx, productID, quantity); err != nil {
		span.RecordError(err)
		o.log().Error("manual stock update failed", zap.String("product_id", productID), zap.Error(err))
		return err
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", queue, err)
	}
	if err := o.bus.Publish(ctx, queue, body); err != nil {
		o.log().Error("publish failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	return nil
}

func (o *Orchestrator) release(ctx context.Context, id string) {
	if err := o.store.Remove(ctx, id); err != nil {
		o.log().Warn("remove workflow context failed", zap.String("workflow_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) drop(queue string, body []byte, err error) {
	o.log().Warn("dropping malformed message",
		zap.String("queue", queue),
		zap.String("body", strings.TrimSpace(string(body))),
		zap.Error(err),
	)
}

func (o *Orchestrator) log() *zap.Logger {
	if o != nil && o.logger != nil {
		return o.logger
	}
	return zap.L()
}
