// Package models defines state management structures for CarSherpa flows.
package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Exchange is one past (user message, bot reply) pair.
type Exchange struct {
	User string    `json:"user"`
	Bot  string    `json:"bot"`
	At   time.Time `json:"at"`
}

// Record is the per-user conversation state.
type Record struct {
	UserID      string     `json:"user_id"`
	Flow        FlowName   `json:"flow_name,omitempty"`
	Step        StepName   `json:"step,omitempty"`
	Data        Data       `json:"data,omitempty"`
	History     []Exchange `json:"history,omitempty"`
	LastUpdated time.Time  `json:"last_updated"`
}

// NewRecord returns an empty record for a user with flow and step set.
func NewRecord(userID string, flow FlowName, step StepName) Record {
	r := Record{UserID: userID, Flow: flow, Step: step, Data: Data{}}
	if flow == FlowNone {
		r.Step = ""
	}
	return r
}

// Active reports whether a flow currently owns the user's input.
func (r Record) Active() bool {
	return r.Flow != FlowNone
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Data = r.Data.Clone()
	if r.History != nil {
		out.History = append([]Exchange(nil), r.History...)
	}
	return out
}

// Data is the open key/value bag collected by a flow.
type Data map[DataKey]any

// Clone returns a deep copy of d. Nested maps and slices are copied.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Data:
		return t.Clone()
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	case []Car:
		return append([]Car(nil), t...)
	case *Car:
		if t == nil {
			return nil
		}
		c := *t
		return c
	default:
		return v
	}
}

// IsEmptyValue reports whether v carries no information: nil, blank strings and zero numbers.
// Booleans are always informative.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case int:
		return t == 0
	case int64:
		return t == 0
	case float64:
		return t == 0
	case *Car:
		return t == nil
	case Data:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// MergeNonNil copies every informative value of src into dst and returns the keys written.
// A known value in dst is never replaced by an unknown one.
func MergeNonNil(dst, src Data) []DataKey {
	var written []DataKey
	for k, v := range src {
		if IsEmptyValue(v) {
			continue
		}
		dst[k] = cloneValue(v)
		written = append(written, k)
	}
	return written
}

// Has reports whether key holds an informative value.
func (d Data) Has(key DataKey) bool {
	v, ok := d[key]
	return ok && !IsEmptyValue(v)
}

// String returns the value at key as a string, or "".
func (d Data) String(key DataKey) string {
	switch v := d[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// Int returns the value at key as an int, or 0.
func (d Data) Int(key DataKey) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

// Float returns the value at key as a float64, or 0.
func (d Data) Float(key DataKey) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Bool returns the value at key and whether it was set to a boolean.
func (d Data) Bool(key DataKey) (bool, bool) {
	v, ok := d[key].(bool)
	return v, ok
}

// Car returns the car snapshot stored at key. Snapshots restored from JSON are decoded.
func (d Data) Car(key DataKey) (Car, bool) {
	switch v := d[key].(type) {
	case Car:
		return v, true
	case *Car:
		if v != nil {
			return *v, true
		}
	case map[string]any:
		var c Car
		if decodeVia(v, &c) {
			return c, true
		}
	}
	return Car{}, false
}

// Cars returns the car list stored at key.
func (d Data) Cars(key DataKey) []Car {
	switch v := d[key].(type) {
	case []Car:
		return v
	case []any:
		var cars []Car
		if decodeVia(v, &cars) {
			return cars
		}
	}
	return nil
}

// Sub returns a nested data bag stored at key.
func (d Data) Sub(key DataKey) Data {
	switch v := d[key].(type) {
	case Data:
		return v
	case map[string]any:
		out := make(Data, len(v))
		for k, inner := range v {
			out[DataKey(k)] = inner
		}
		return out
	}
	return nil
}

func decodeVia(in any, out any) bool {
	raw, err := json.Marshal(in)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
