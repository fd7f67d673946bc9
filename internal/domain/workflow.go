package domain

// Outcome statuses reported by the payment and shipping services.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Address is the shipping destination of an order.
type Address struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	ZipCode string `json:"zipCode" validate:"required"`
}

// WorkflowOrder is the payload carried by the initiation, payment and shipping command queues.
// ShippingAddress is nil on fallback shipping commands built without the original order.
type WorkflowOrder struct {
	ID              string   `json:"id" validate:"required"`
	Item            string   `json:"item" validate:"required"`
	Quantity        int      `json:"quantity" validate:"gt=0"`
	CustomerName    string   `json:"customerName,omitempty" validate:"required"`
	ShippingAddress *Address `json:"shippingAddress,omitempty" validate:"required"`
	Status          string   `json:"status,omitempty"`
}

// PaymentOutcome is published by the payment service on payment_completed_queue.
type PaymentOutcome struct {
	OrderID   string  `json:"orderId"`
	PaymentID string  `json:"paymentId"`
	Status    string  `json:"status"`
	Item      string  `json:"item"`
	Quantity  int     `json:"quantity"`
	Amount    float64 `json:"amount"`
}

// ShippingOutcome is published by the shipping service on shipping_completed_queue.
type ShippingOutcome struct {
	OrderID    string `json:"orderId"`
	ShippingID string `json:"shippingId"`
	Status     string `json:"status"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
	Error      string `json:"error,omitempty"`
}

// HasStockUpdate reports whether the outcome carries enough data to decrement stock.
func (o ShippingOutcome) HasStockUpdate() bool {
	return o.ProductID != "" && o.Quantity > 0
}
