package object

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Action records one step of an object's provenance chain.
type Action struct {
	Name   string         `json:"name"`
	Module map[string]any `json:"module"`
	Data   map[string]any `json:"data"`
}

// SameStep reports whether both actions were produced by the same logical
// step: equal names and equal module snapshots. Data such as mtimes is ignored.
func (a Action) SameStep(b Action) bool {
	if a.Name != b.Name {
		return false
	}
	left, err := CanonicalJSON(a.Module)
	if err != nil {
		return false
	}
	right, err := CanonicalJSON(b.Module)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// Int64 reads an integer data value. JSON decoded with UseNumber keeps
// nanosecond mtimes exact.
func (a Action) Int64(key string) (int64, bool) {
	return toInt64(a.Data[key])
}

// String reads a string data value.
func (a Action) String(key string) (string, bool) {
	s, ok := a.Data[key].(string)
	return s, ok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// CanonicalJSON encodes v with sorted map keys. Numbers decoded from JSON and
// numbers held in memory encode identically when their values are equal.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ChainsMatch compares two action chains step by step with SameStep.
func ChainsMatch(a, b []Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SameStep(b[i]) {
			return false
		}
	}
	return true
}

func appendAction(actions []Action, action Action) []Action {
	out := make([]Action, 0, len(actions)+1)
	out = append(out, actions...)
	return append(out, action)
}
