package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"guied/internal/types"
)

// Signature verification failures. The webhook handler only logs these.
var (
	ErrSignatureMissing   = errors.New("x-signature header missing")
	ErrSignatureMalformed = errors.New("x-signature header malformed")
	ErrSignatureMismatch  = errors.New("x-signature does not match")
	ErrSignatureExpired   = errors.New("x-signature timestamp outside tolerance")
)

// DefaultSignatureTolerance is how far the signed ts may drift from the
// local clock in either direction.
const DefaultSignatureTolerance = 5 * time.Minute

// millisecondTimestamp is the smallest ts read as milliseconds rather than
// seconds. Mercado Pago has sent both.
const millisecondTimestamp = 1_000_000_000_000

var alphanumeric = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// MercadoPagoSignatureVerifier checks the x-signature header Mercado Pago
// attaches to webhook deliveries when a secret is configured for the app.
//
// The header looks like "ts=1704908010,v1=<hex>", where v1 is
// HMAC-SHA256(secret, "id:<data.id>;request-id:<x-request-id>;ts:<ts>;").
// Parts whose input is empty are left out of the manifest. A correctly
// signed header whose ts is further than the tolerance from now is rejected,
// so a captured delivery cannot be replayed indefinitely.
type MercadoPagoSignatureVerifier struct {
	secret    types.SecretString
	tolerance time.Duration
	now       func() time.Time
}

// SignatureOption configures a MercadoPagoSignatureVerifier.
type SignatureOption func(*MercadoPagoSignatureVerifier)

// WithSignatureTolerance sets the accepted clock skew. Zero disables the
// timestamp check.
func WithSignatureTolerance(d time.Duration) SignatureOption {
	return func(v *MercadoPagoSignatureVerifier) { v.tolerance = d }
}

// WithSignatureClock overrides the time source.
func WithSignatureClock(now func() time.Time) SignatureOption {
	return func(v *MercadoPagoSignatureVerifier) { v.now = now }
}

// NewMercadoPagoSignatureVerifier creates a verifier for secret.
func NewMercadoPagoSignatureVerifier(secret types.SecretString, opts ...SignatureOption) *MercadoPagoSignatureVerifier {
	v := &MercadoPagoSignatureVerifier{secret: secret, tolerance: DefaultSignatureTolerance, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates header against the notification's data id and the
// delivery's x-request-id. The timestamp is checked only after the HMAC
// matches, so ErrSignatureExpired always refers to a genuine signature.
func (v *MercadoPagoSignatureVerifier) Verify(header, requestID, dataID string) error {
	if strings.TrimSpace(header) == "" {
		return ErrSignatureMissing
	}
	ts, sig := parseSignatureHeader(header)
	if ts == "" || sig == "" {
		return ErrSignatureMalformed
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrSignatureMalformed
	}

	mac := hmac.New(sha256.New, []byte(v.secret.Unmask()))
	mac.Write([]byte(SignatureManifest(dataID, requestID, ts)))
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrSignatureMismatch
	}
	return v.checkTimestamp(ts)
}

func (v *MercadoPagoSignatureVerifier) checkTimestamp(ts string) error {
	if v.tolerance <= 0 {
		return nil
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || n <= 0 {
		return ErrSignatureMalformed
	}
	var signedAt time.Time
	if n >= millisecondTimestamp {
		signedAt = time.UnixMilli(n)
	} else {
		signedAt = time.Unix(n, 0)
	}
	skew := v.now().Sub(signedAt)
	if skew > v.tolerance || skew < -v.tolerance {
		return ErrSignatureExpired
	}
	return nil
}

// SignatureManifest builds the string Mercado Pago signs. Alphanumeric data
// ids are lowercased, as the provider does.
func SignatureManifest(dataID, requestID, ts string) string {
	if alphanumeric.MatchString(dataID) {
		dataID = strings.ToLower(dataID)
	}
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + dataID + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}
