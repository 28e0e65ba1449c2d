package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "$2a$10$abcdefghijklmnopqrstuv"

func TestSecretString_FmtRedacts(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v"} {
		result := fmt.Sprintf(verb, s)
		if strings.Contains(result, testSecret) {
			t.Errorf("fmt.Sprintf(%s) leaked the raw secret: %s", verb, result)
		}
	}
}

func TestSecretString_JSONRedacts(t *testing.T) {
	wrapper := struct {
		Hash SecretString `json:"hash"`
	}{Hash: SecretString(testSecret)}

	body, err := json.Marshal(wrapper)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(body), testSecret) {
		t.Errorf("JSON leaked the raw secret: %s", body)
	}
	if string(body) != `{"hash":"***REDACTED***"}` {
		t.Errorf("JSON = %s", body)
	}
}

func TestSecretString_UnmaskAndIsSet(t *testing.T) {
	s := SecretString(testSecret)
	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q", s.Unmask())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for non-empty secret")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for empty secret")
	}
}
