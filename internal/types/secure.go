package types

// redactedPlaceholder is the string used to replace secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"` + redactedPlaceholder + `"`)

// SecretString holds a credential (provider access token, service role key,
// webhook signing secret). String, GoString and MarshalJSON all return a
// redacted placeholder so the value cannot leak through fmt, slog or JSON.
//
// Use Unmask() only at the point where the raw value is handed to an HTTP
// header or a driver.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// GoString covers the %#v verb.
func (s SecretString) GoString() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsZero reports whether no secret was configured.
func (s SecretString) IsZero() bool {
	return s == ""
}
