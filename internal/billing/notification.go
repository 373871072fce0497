package billing

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"guied/internal/types"
)

// NotificationKind tags which emission shape a provider callback arrived in.
type NotificationKind string

const (
	// NotificationUnrecognized covers heartbeats, test pings and topics that
	// are not payments. Fetching it yields no payment.
	NotificationUnrecognized NotificationKind = "unrecognized"
	// NotificationDirectPayment is the nested {"data":{"id":...}} pointer.
	NotificationDirectPayment NotificationKind = "direct_payment"
	// NotificationFlatPaymentKey is the flattened "data.id" key, in the body
	// or the query string.
	NotificationFlatPaymentKey NotificationKind = "flat_payment_key"
	// NotificationTopLevelID is a bare "id" on a payment topic (legacy IPN).
	NotificationTopLevelID NotificationKind = "top_level_id"
	// NotificationOrderPointer refers to a merchant order whose payment list
	// must be fetched to find the payment.
	NotificationOrderPointer NotificationKind = "order_pointer"
)

const (
	topicPayment       = "payment"
	merchantOrderToken = "merchant_order"
	merchantOrderPath  = "/merchant_orders/"
)

// Notification is the parsed form of a provider callback. Exactly one of
// PaymentID or OrderID is set unless Kind is NotificationUnrecognized.
type Notification struct {
	Kind      NotificationKind
	PaymentID string
	OrderID   string
	Topic     string
}

// Recognized reports whether the notification points at anything fetchable.
func (n Notification) Recognized() bool {
	return n.Kind != NotificationUnrecognized
}

// ParseNotification classifies a callback. The body may be empty or not JSON;
// the query string is consulted for the shapes the provider also sends there.
//
// Extraction order is nested pointer, flat alternate key, top-level id, then
// order pointer. Merchant-order topics route every id to the order pointer.
func ParseNotification(body []byte, query url.Values) Notification {
	env := decodeEnvelope(body)

	topic := strings.ToLower(firstNonEmpty(
		idString(env["type"]),
		idString(env["topic"]),
		query.Get("type"),
		query.Get("topic"),
	))
	resource := idString(env["resource"])

	nested := ""
	if data, ok := env["data"].(map[string]any); ok {
		nested = idString(data["id"])
	}
	flat := firstNonEmpty(idString(env["data.id"]), query.Get("data.id"))
	topLevel := firstNonEmpty(idString(env["id"]), query.Get("id"))

	if isOrderTopic(topic) {
		if id := firstNonEmpty(nested, flat, topLevel, lastPathSegment(resource)); id != "" {
			return Notification{Kind: NotificationOrderPointer, OrderID: id, Topic: topic}
		}
		return Notification{Kind: NotificationUnrecognized, Topic: topic}
	}

	if topic != "" && topic != topicPayment {
		if strings.Contains(resource, merchantOrderPath) {
			return Notification{Kind: NotificationOrderPointer, OrderID: lastPathSegment(resource), Topic: topic}
		}
		return Notification{Kind: NotificationUnrecognized, Topic: topic}
	}

	switch {
	case nested != "":
		return Notification{Kind: NotificationDirectPayment, PaymentID: nested, Topic: topic}
	case flat != "":
		return Notification{Kind: NotificationFlatPaymentKey, PaymentID: flat, Topic: topic}
	case topLevel != "":
		return Notification{Kind: NotificationTopLevelID, PaymentID: topLevel, Topic: topic}
	case strings.Contains(resource, merchantOrderPath):
		return Notification{Kind: NotificationOrderPointer, OrderID: lastPathSegment(resource), Topic: topic}
	case topic == topicPayment && resource != "":
		return Notification{Kind: NotificationTopLevelID, PaymentID: lastPathSegment(resource), Topic: topic}
	default:
		return Notification{Kind: NotificationUnrecognized, Topic: topic}
	}
}

// Message converts the notification to its queue payload.
func (n Notification) Message(receivedAt time.Time, requestID string) types.ReconcileMessage {
	return types.ReconcileMessage{
		Kind:       string(n.Kind),
		PaymentID:  n.PaymentID,
		OrderID:    n.OrderID,
		ReceivedAt: receivedAt.UTC(),
		RequestID:  requestID,
	}
}

// NotificationFromMessage is the inverse of Notification.Message. Unknown
// kinds decode as unrecognized.
func NotificationFromMessage(m types.ReconcileMessage) Notification {
	kind := NotificationKind(m.Kind)
	switch kind {
	case NotificationDirectPayment, NotificationFlatPaymentKey, NotificationTopLevelID:
		if m.PaymentID != "" {
			return Notification{Kind: kind, PaymentID: m.PaymentID}
		}
	case NotificationOrderPointer:
		if m.OrderID != "" {
			return Notification{Kind: kind, OrderID: m.OrderID}
		}
	}
	return Notification{Kind: NotificationUnrecognized}
}

func decodeEnvelope(body []byte) map[string]any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var env map[string]any
	if err := dec.Decode(&env); err != nil {
		return nil
	}
	return env
}

// idString renders a provider id that may arrive as a JSON string or number.
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func isOrderTopic(topic string) bool {
	return strings.Contains(topic, merchantOrderToken)
}

func lastPathSegment(resource string) string {
	if i := strings.IndexAny(resource, "?#"); i >= 0 {
		resource = resource[:i]
	}
	resource = strings.TrimRight(strings.TrimSpace(resource), "/")
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		return resource[i+1:]
	}
	return resource
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
