package accessor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Wire values are what JSON decoding produces: nil, bool, float64, string,
// []any and map[string]any. Integers may also arrive as int, int64 or
// json.Number from other callers.

func wireString(wire any) (string, error) {
	switch v := wire.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}
	return "", fmt.Errorf("expected a string, got %T", wire)
}

func wireInt64(wire any) (int64, error) {
	switch v := wire.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return 0, fmt.Errorf("expected an integer, got %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", wire)
}

func wireFloat(wire any) (float64, error) {
	switch v := wire.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected a number, got %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", wire)
}

func wireBool(wire any) (bool, error) {
	switch v := wire.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("expected a boolean, got %q", v)
		}
		return b, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", wire)
}

// wireTime accepts RFC 3339 timestamps and plain dates. Null and the empty
// string give the zero time.
func wireTime(wire any) (time.Time, error) {
	switch v := wire.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(time.DateOnly, v); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("expected a date, got %q", v)
	}
	return time.Time{}, fmt.Errorf("expected a date, got %T", wire)
}

func wireList(wire any) ([]any, error) {
	switch v := wire.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	}
	return nil, fmt.Errorf("expected a list, got %T", wire)
}

func wireMap(wire any) (map[string]any, error) {
	switch v := wire.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	}
	return nil, fmt.Errorf("expected an object, got %T", wire)
}

// exportTime formats a date for the wire. The zero time is exported as null.
func exportTime(t time.Time, dateOnly bool) any {
	if t.IsZero() {
		return nil
	}
	if dateOnly {
		return t.UTC().Format(time.DateOnly)
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
