package postgres

import (
	"encoding/json"
	"fmt"
)

// toJSON marshals v for a jsonb column, erroring with context rather than
// the bare encoding/json message.
func toJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return b, nil
}

// fromJSON unmarshals a jsonb column into v. A nil/empty column leaves v
// untouched.
func fromJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return nil
}
