// Package sanitize converts arbitrary execution state into JSON-safe,
// size-bounded snapshots for debug step records.
package sanitize

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// maxStringLen is the longest string value carried into a snapshot
// verbatim; anything longer is cut and marked with its original length.
const maxStringLen = 5000

// typedMessage is how chat-message-like values are detected: anything
// exposing a type discriminator is reduced to {type, content, tool_calls}.
type typedMessage interface {
	MessageType() string
}

// State sanitizes a full state map. Function-valued fields are dropped,
// long strings truncated, and message-like values reduced. If the deep
// transform fails (circular references, unserializable values), the
// result degrades to a shallow per-key summary. Never panics, never
// returns an error.
func State(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out, err := deepMap(state, make(map[uintptr]bool))
	if err != nil {
		return shallow(state)
	}
	return out
}

func deepMap(m map[string]any, seen map[uintptr]bool) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sanitize: %v", r)
		}
	}()

	ptr := reflect.ValueOf(m).Pointer()
	if seen[ptr] {
		return nil, fmt.Errorf("sanitize: circular reference")
	}
	seen[ptr] = true
	defer delete(seen, ptr)

	out = make(map[string]any, len(m))
	for k, v := range m {
		sv, keep, err := value(v, seen)
		if err != nil {
			return nil, err
		}
		if keep {
			out[k] = sv
		}
	}
	return out, nil
}

// value transforms one value. keep=false drops the field entirely
// (functions and channels have no JSON representation).
func value(v any, seen map[uintptr]bool) (any, bool, error) {
	if v == nil {
		return nil, true, nil
	}
	if msg, ok := v.(typedMessage); ok {
		return reduceMessage(msg), true, nil
	}

	switch tv := v.(type) {
	case string:
		return truncate(tv), true, nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return tv, true, nil
	case map[string]any:
		out, err := deepMap(tv, seen)
		return out, true, err
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan:
		return nil, false, nil
	case reflect.String:
		// Named string types get the same bound as plain strings.
		return truncate(rv.String()), true, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if seen[rv.Pointer()] {
				return nil, true, fmt.Errorf("sanitize: circular reference")
			}
			seen[rv.Pointer()] = true
			defer delete(seen, rv.Pointer())
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			sv, keep, err := value(rv.Index(i).Interface(), seen)
			if err != nil {
				return nil, true, err
			}
			if keep {
				out = append(out, sv)
			}
		}
		return out, true, nil
	case reflect.Map:
		if seen[rv.Pointer()] {
			return nil, true, fmt.Errorf("sanitize: circular reference")
		}
		seen[rv.Pointer()] = true
		defer delete(seen, rv.Pointer())
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			sv, keep, err := value(iter.Value().Interface(), seen)
			if err != nil {
				return nil, true, err
			}
			if keep {
				out[fmt.Sprint(iter.Key().Interface())] = sv
			}
		}
		return out, true, nil
	case reflect.Ptr, reflect.Struct, reflect.Interface:
		// Round-trip through JSON: cycles and unserializable values
		// surface as a marshal error, which degrades to the shallow path.
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, true, fmt.Errorf("sanitize: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, true, fmt.Errorf("sanitize: %w", err)
		}
		return value(decoded, seen)
	default:
		return fmt.Sprint(v), true, nil
	}
}

func reduceMessage(msg typedMessage) map[string]any {
	out := map[string]any{
		"type":    msg.MessageType(),
		"content": truncate(messageContent(msg)),
	}
	if calls := messageToolCalls(msg); calls != nil {
		out["tool_calls"] = calls
	}
	return out
}

// messageContent pulls a Content field or accessor off a message-like
// value without requiring a second interface on callers.
func messageContent(msg typedMessage) string {
	rv := reflect.Indirect(reflect.ValueOf(msg))
	if rv.Kind() != reflect.Struct {
		return ""
	}
	f := rv.FieldByName("Content")
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return ""
}

func messageToolCalls(msg typedMessage) any {
	rv := reflect.Indirect(reflect.ValueOf(msg))
	if rv.Kind() != reflect.Struct {
		return nil
	}
	f := rv.FieldByName("ToolCalls")
	if f.IsValid() && !f.IsZero() {
		return f.Interface()
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxStringLen {
		return s
	}
	return fmt.Sprintf("%s... [truncated, %d chars total]", s[:maxStringLen], len(s))
}

// shallow is the degraded per-key summary used when the deep transform
// fails: containers become size markers, functions are dropped, and
// everything else passes through unchanged.
func shallow(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		if v == nil {
			out[k] = nil
			continue
		}
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Func, reflect.Chan:
			continue
		case reflect.Slice, reflect.Array:
			out[k] = fmt.Sprintf("[Array: %d items]", rv.Len())
		case reflect.Map:
			out[k] = fmt.Sprintf("[Object: %d keys]", rv.Len())
		default:
			out[k] = v
		}
	}
	return out
}
