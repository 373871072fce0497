package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "APP_USR-0000-secret-token"

func TestSecretString_NeverPrintsRawValue(t *testing.T) {
	s := SecretString(testSecret)

	for _, out := range []string{
		s.String(),
		fmt.Sprintf("%s", s),
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%#v", s),
	} {
		if strings.Contains(out, testSecret) {
			t.Errorf("formatted output leaked the secret: %q", out)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	payload := struct {
		Token SecretString `json:"token"`
	}{Token: SecretString(testSecret)}

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), testSecret) {
		t.Errorf("JSON leaked the secret: %s", b)
	}
	if string(b) != `{"token":"***REDACTED***"}` {
		t.Errorf("JSON = %s", b)
	}
}

func TestSecretString_UnmaskAndIsZero(t *testing.T) {
	if SecretString(testSecret).Unmask() != testSecret {
		t.Error("Unmask should return the raw value")
	}
	if !SecretString("").IsZero() {
		t.Error("empty secret should be zero")
	}
	if SecretString("x").IsZero() {
		t.Error("non-empty secret should not be zero")
	}
}
