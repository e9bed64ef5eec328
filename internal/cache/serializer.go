// Package cache implements the tiered cache: a bounded process-local
// tier, a Redis-backed shared tier, and the hybrid coordinator that
// combines them with promotion and cross-instance invalidation.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/mgrinalds/wayguard/internal/types"
)

// JSONSerializer serializes values as JSON. It is the default serializer;
// callers with tighter encoding needs can plug in their own.
type JSONSerializer struct{}

// NewJSONSerializer creates a JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Marshal converts a value to JSON bytes.
func (s *JSONSerializer) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize value: %w", err)
	}
	return data, nil
}

// Unmarshal parses JSON bytes into dest.
func (s *JSONSerializer) Unmarshal(data []byte, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("deserialize value: %w", err)
	}
	return nil
}

var _ types.Serializer = (*JSONSerializer)(nil)
