package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// CoerceMetadata flattens arbitrary JSON metadata into string values.
// Scalars keep their JSON spelling (true, 1, 1.5) so rule condition values are
// written the way clients send them. It never fails: values that cannot be
// rendered become their fmt form.
func CoerceMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = coerce(v)
	}
	return out
}

func coerce(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
