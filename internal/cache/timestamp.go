package cache

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// NormalizeTimestamp converts a seconds timestamp delivered as a number or a
// decimal string into integer seconds. Anything else, including negative
// values, normalizes to 0.
func NormalizeTimestamp(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int:
		return clampSeconds(int64(t))
	case int32:
		return clampSeconds(int64(t))
	case int64:
		return clampSeconds(t)
	case uint32:
		return int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return 0
		}
		return int64(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0
		}
		return clampSeconds(int64(t))
	case json.Number:
		return NormalizeTimestamp(t.String())
	case time.Time:
		if t.IsZero() {
			return 0
		}
		return clampSeconds(t.Unix())
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return clampSeconds(n)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return NormalizeTimestamp(f)
		}
		return 0
	default:
		return 0
	}
}

func clampSeconds(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
