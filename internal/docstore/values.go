package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// NewID returns a fresh document id.
func NewID() string {
	return uuid.New().String()
}

// Int64 converts a stored numeric value to int64. Backends hand numbers back
// as int64, float64 or json.Number depending on their codec.
func Int64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float32:
		return int64(math.Round(float64(n)))
	case float64:
		return int64(math.Round(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return int64(math.Round(f))
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

// String converts a stored scalar to its string form; nil becomes "".
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}

// Strings converts a stored array of strings.
func Strings(v any) []string {
	switch a := v.(type) {
	case []string:
		out := make([]string, len(a))
		copy(out, a)
		return out
	case []any:
		out := make([]string, 0, len(a))
		for _, e := range a {
			out = append(out, String(e))
		}
		return out
	}
	return []string{}
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
