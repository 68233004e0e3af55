package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DecodeConfigMap unmarshals a JSON credentials/settings blob into a map.
// A JSON null yields an empty map.
func DecodeConfigMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode config map: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// ReadString returns the first non-empty string value among keys, coercing
// numeric values to their decimal representation.
func ReadString(config map[string]any, keys ...string) string {
	if config == nil {
		return ""
	}
	for _, key := range keys {
		value, ok := config[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// ReadBool returns the boolean value for key, or false when absent.
func ReadBool(config map[string]any, key string) bool {
	if config == nil {
		return false
	}
	switch v := config[key].(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	default:
		return false
	}
}
