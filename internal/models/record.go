package models

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// IDField is the payload key carrying a record's identity.
const IDField = "id"

// Record is a single row as exchanged with the remote backend.
type Record map[string]interface{}

// ID returns the record identity rendered as a string, or "" when absent.
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	return FormatID(r[IDField])
}

// FormatID renders an identity value. Integral floats (as produced by JSON
// decoding of numeric keys) are printed without exponent or fraction.
func FormatID(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		if id == math.Trunc(id) {
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
		return strconv.FormatFloat(id, 'g', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprint(id)
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with every field of patch applied on top.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Equal compares two records field by field, treating numbers of different Go
// types as equal when their values match.
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for k, v := range r {
		ov, ok := other[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// DiffFields returns the keys of patch whose values differ in r.
func (r Record) DiffFields(patch Record) []string {
	var fields []string
	for k, v := range patch {
		if k == IDField {
			continue
		}
		if cur, ok := r[k]; !ok || !ValuesEqual(cur, v) {
			fields = append(fields, k)
		}
	}
	return fields
}

// ValuesEqual compares two decoded field values.
func ValuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
