package types

import "time"

// ReconcileMessage is the SQS payload used when webhook processing is moved
// off the request path. It carries the already-parsed notification pointer so
// the worker does not need the original HTTP request.
type ReconcileMessage struct {
	Kind       string    `json:"kind"`
	PaymentID  string    `json:"payment_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	RequestID  string    `json:"request_id,omitempty"`
}
