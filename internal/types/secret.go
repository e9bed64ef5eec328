package types

import "encoding/json"

const redacted = "[REDACTED]"

// SecretString wraps a sensitive value such as the shared-tier password.
// fmt and JSON marshaling both see the redaction placeholder; only an
// explicit Value call yields the secret.
type SecretString struct {
	value string
}

// NewSecretString wraps value for redaction.
func NewSecretString(value string) SecretString {
	return SecretString{value: value}
}

// Value returns the wrapped secret.
func (s SecretString) Value() string {
	return s.value
}

// IsEmpty reports whether no secret is set.
func (s SecretString) IsEmpty() bool {
	return s.value == ""
}

func (s SecretString) String() string {
	if s.IsEmpty() {
		return ""
	}
	return redacted
}

// MarshalJSON writes the placeholder, never the secret. Dumping a config
// struct is therefore always safe.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON reads the secret verbatim from a config file.
func (s *SecretString) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.value)
}
