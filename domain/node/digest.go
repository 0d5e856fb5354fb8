package node

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// CircularSentinel replaces cyclic payload substructures during digesting
// and serialization. Cycle handling is best-effort data rescue.
const CircularSentinel = "[Circular]"

// Digest computes a stable content hash over a payload. The rendering is
// canonical: map keys are sorted, numbers are formatted deterministically,
// and cycles collapse to the sentinel, so structurally equal payloads
// always hash equal.
func Digest(fields map[string]any) string {
	var buf bytes.Buffer
	canonicalWrite(&buf, fields, map[uintptr]bool{})
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func canonicalWrite(buf *bytes.Buffer, v any, seen map[uintptr]bool) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			buf.WriteString(strconv.Quote(CircularSentinel))
			return
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(k))
			buf.WriteByte(':')
			canonicalWrite(buf, val[k], seen)
		}
		buf.WriteByte('}')
	case []any:
		ptr := uintptr(0)
		if val != nil {
			ptr = reflect.ValueOf(val).Pointer()
			if seen[ptr] {
				buf.WriteString(strconv.Quote(CircularSentinel))
				return
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			canonicalWrite(buf, elem, seen)
		}
		buf.WriteByte(']')
	case string:
		buf.WriteString(strconv.Quote(val))
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case float64:
		buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case float32:
		buf.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 32))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	default:
		fmt.Fprintf(buf, "%v", val)
	}
}

// Sanitize deep-copies a payload value, replacing cyclic references with
// the sentinel so it can be marshaled with encoding/json without infinite
// recursion. Non-cyclic payloads come back structurally identical.
func Sanitize(v any) any {
	return sanitizeValue(v, map[uintptr]bool{})
}

func sanitizeValue(v any, active map[uintptr]bool) any {
	switch val := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if active[ptr] {
			return CircularSentinel
		}
		active[ptr] = true
		defer delete(active, ptr)

		cp := make(map[string]any, len(val))
		for k, elem := range val {
			cp[k] = sanitizeValue(elem, active)
		}
		return cp
	case []any:
		if val == nil {
			return nil
		}
		ptr := reflect.ValueOf(val).Pointer()
		if active[ptr] {
			return CircularSentinel
		}
		active[ptr] = true
		defer delete(active, ptr)

		cp := make([]any, len(val))
		for i, elem := range val {
			cp[i] = sanitizeValue(elem, active)
		}
		return cp
	default:
		return val
	}
}
