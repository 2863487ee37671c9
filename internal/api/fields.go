// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/bhassurance/assurbot/internal/validate"
)

// ValueKind tells which member of a Value is set.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
)

// Value is one collected answer as the backend echoes it: a string, a
// number or a boolean.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	flag bool
}

func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, flag: b} }

// Kind reports which member is set.
func (v Value) Kind() ValueKind { return v.kind }

// Number returns the numeric member.
func (v Value) Number() (float64, bool) { return v.num, v.kind == KindNumber }

// Bool returns the boolean member.
func (v Value) Bool() (bool, bool) { return v.flag, v.kind == KindBool }

// String renders the value for display. Booleans render in French.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		if v.flag {
			return "oui"
		}
		return "non"
	default:
		return v.str
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.flag)
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Objects, arrays and null are
// rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty value", ErrMalformedResponse)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case 'n', '{', '[':
		return fmt.Errorf("%w: unsupported collected value %s", ErrMalformedResponse, data)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
	}
	return nil
}

// Fields is an ordered collection of collected answers. Order follows the
// product's field sequence; keys outside it come last, sorted.
type Fields struct {
	keys   []string
	values map[string]Value
}

// NewFields orders m by the sequence of the product it contains.
func NewFields(m map[string]Value) Fields {
	f := Fields{values: make(map[string]Value, len(m))}
	for k, v := range m {
		f.values[k] = v
	}

	product := validate.ProductKind("")
	if p, ok := m[validate.KeyProduct]; ok {
		product, _ = validate.ParseProduct(p.String())
	}

	seen := make(map[string]bool, len(m))
	for _, k := range validate.Keys(product) {
		if _, ok := m[k]; ok {
			f.keys = append(f.keys, k)
			seen[k] = true
		}
	}
	var extra []string
	for k := range m {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	f.keys = append(f.keys, extra...)
	return f
}

// Len returns the number of collected answers.
func (f Fields) Len() int { return len(f.keys) }

// Keys returns the keys in order.
func (f Fields) Keys() []string { return append([]string(nil), f.keys...) }

// Get returns the value for key.
func (f Fields) Get(key string) (Value, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Has reports whether key was collected.
func (f Fields) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

// Product returns the product chosen by the first answer, if any.
func (f Fields) Product() (validate.ProductKind, bool) {
	v, ok := f.values[validate.KeyProduct]
	if !ok {
		return "", false
	}
	return validate.ParseProduct(v.String())
}

// Map returns a copy as a plain map.
func (f Fields) Map() map[string]Value {
	out := make(map[string]Value, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Equal reports whether both hold the same keys and values.
func (f Fields) Equal(o Fields) bool {
	if len(f.keys) != len(o.keys) {
		return false
	}
	for i, k := range f.keys {
		if o.keys[i] != k || f.values[k] != o.values[k] {
			return false
		}
	}
	return true
}

// MarshalJSON writes the object with keys in order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := f.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fields) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*f = Fields{}
		return nil
	}
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*f = NewFields(m)
	return nil
}

// TypedValue converts an accepted answer to the JSON type the backend
// stores for key: numbers for integer rules, booleans for yes/no, strings
// otherwise.
func TypedValue(key string, res validate.Result) Value {
	spec, ok := validate.Lookup(key)
	if !ok {
		return StringValue(res.Normalized)
	}
	switch spec.Rule.Kind {
	case validate.RuleIntRange:
		if n, err := strconv.Atoi(res.Normalized); err == nil {
			return NumberValue(float64(n))
		}
	case validate.RuleYesNo:
		return BoolValue(res.Normalized == "oui")
	}
	return StringValue(res.Normalized)
}
