package types

import (
	"encoding/json"
	"testing"
	"time"
)

// The worker may be deployed ahead of or behind the API, so the queue
// payload keys are a contract.
func TestReconcileMessageWireKeys(t *testing.T) {
	msg := ReconcileMessage{
		Kind:       "order_pointer",
		OrderID:    "555",
		ReceivedAt: time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
		RequestID:  "req-1",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"kind", "order_id", "received_at", "request_id"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if _, ok := raw["payment_id"]; ok {
		t.Errorf("empty payment_id should be omitted: %s", data)
	}
	if raw["received_at"] != "2026-05-10T12:00:00Z" {
		t.Errorf("received_at = %v", raw["received_at"])
	}
}
