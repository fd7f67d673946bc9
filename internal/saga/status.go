package saga

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kavindya12/soa-microservices-platform/internal/adapter/collaborator"
)

// Placeholder statuses for a leg that could not be fetched.
const (
	LegNotFound    = "not_found"
	LegUnavailable = "unavailable"
)

// StatusDetails holds one entry per collaborator.
type StatusDetails struct {
	Order    json.RawMessage `json:"order"`
	Payment  json.RawMessage `json:"payment"`
	Shipping json.RawMessage `json:"shipping"`
}

// StatusReport is the aggregated view of one order.
type StatusReport struct {
	OrderID  string        `json:"orderId"`
	Details  StatusDetails `json:"details"`
	Workflow *Record       `json:"workflow,omitempty"`
}

type placeholder struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type leg struct {
	label   string
	service string
	fetch   func(context.Context, string) (json.RawMessage, error)
	out     *json.RawMessage
}

// WorkflowStatus queries the three record stores concurrently. A failing leg is
// replaced by a placeholder; the report itself never fails.
func (o *Orchestrator) WorkflowStatus(ctx context.Context, orderID string) StatusReport {
	ctx, span := o.tracer.Start(ctx, "saga.WorkflowStatus", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	report := StatusReport{OrderID: orderID}
	legs := []leg{
		{label: "Order", service: "Orders", fetch: o.collab.GetOrder, out: &report.Details.Order},
		{label: "Payment", service: "Payments", fetch: o.collab.GetPayment, out: &report.Details.Payment},
		{label: "Shipping", service: "Shipping", fetch: o.collab.GetShipping, out: &report.Details.Shipping},
	}

	var wg sync.WaitGroup
	for _, l := range legs {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := l.fetch(ctx, orderID)
			if err != nil {
				o.log().Warn("status leg failed",
					zap.String("order_id", orderID),
					zap.String("leg", l.label),
					zap.Error(err),
				)
				*l.out = legPlaceholder(l.label, l.service, err)
				return
			}
			*l.out = body
		}()
	}
	wg.Wait()

	if rec, ok := o.tracker.Get(orderID); ok {
		report.Workflow = &rec
	}
	return report
}

func legPlaceholder(label, service string, err error) json.RawMessage {
	p := placeholder{
		Status:  LegUnavailable,
		Message: service + " service unavailable.",
	}
	if errors.Is(err, collaborator.ErrNotFound) {
		p = placeholder{
			Status:  LegNotFound,
			Message: label + " details not found.",
		}
	}
	body, _ := json.Marshal(p)
	return body
}
