// Package nbt implements the tagged binary encoding used for block, item and
// entity payloads stored alongside every log entry.
//
// The format is the little-endian named-tag layout Bedrock servers write to
// disk: a root compound with an empty name, each child written as (type byte,
// name, payload), compounds closed by an end tag. The wire work is done by
// gophertunnel's nbt package; this package keeps a typed tree on top of it.
// Payloads written by older releases were gzip-compressed; Decode accepts
// both forms.
package nbt

import (
	"errors"
	"fmt"
	"sort"
)

// TagType identifies the kind of a tag on the wire.
type TagType byte

const (
	TagEnd TagType = iota
	TagByte
	TagShort
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagByteArray
	TagString
	TagList
	TagCompound
	TagIntArray
)

var (
	// ErrCorrupted is returned when stored bytes cannot be decoded.
	ErrCorrupted = errors.New("corrupted nbt data")
	// ErrUnsupportedValue is returned when a compound holds a Go value that has no tag type.
	ErrUnsupportedValue = errors.New("unsupported nbt value")
)

// Compound is a named set of tags. Values must be one of int8, int16, int32,
// int64, float32, float64, []byte, string, List, Compound or []int32.
type Compound map[string]any

// List is a homogeneous sequence of tags.
type List struct {
	Type  TagType
	Items []any
}

// Keys returns the compound's keys in sorted order.
func (c Compound) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the string tag stored under key.
func (c Compound) String(key string) (string, bool) {
	v, ok := c[key].(string)
	return v, ok
}

// Int returns an integer tag stored under key, widening smaller integer tags.
func (c Compound) Int(key string) (int64, bool) {
	switch v := c[key].(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// Compound returns the nested compound stored under key.
func (c Compound) Compound(key string) (Compound, bool) {
	v, ok := c[key].(Compound)
	return v, ok
}

// Clone returns a deep copy of the compound.
func (c Compound) Clone() Compound {
	if c == nil {
		return nil
	}
	out := make(Compound, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Compound:
		return t.Clone()
	case List:
		items := make([]any, len(t.Items))
		for i, item := range t.Items {
			items[i] = cloneValue(item)
		}
		return List{Type: t.Type, Items: items}
	case []byte:
		return append([]byte(nil), t...)
	case []int32:
		return append([]int32(nil), t...)
	default:
		return v
	}
}

// typeOf maps a Go value to its tag type.
func typeOf(v any) (TagType, error) {
	switch v.(type) {
	case int8:
		return TagByte, nil
	case int16:
		return TagShort, nil
	case int32:
		return TagInt, nil
	case int64:
		return TagLong, nil
	case float32:
		return TagFloat, nil
	case float64:
		return TagDouble, nil
	case []byte:
		return TagByteArray, nil
	case string:
		return TagString, nil
	case List:
		return TagList, nil
	case Compound:
		return TagCompound, nil
	case []int32:
		return TagIntArray, nil
	}
	return TagEnd, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func (t TagType) String() string {
	switch t {
	case TagEnd:
		return "end"
	case TagByte:
		return "byte"
	case TagShort:
		return "short"
	case TagInt:
		return "int"
	case TagLong:
		return "long"
	case TagFloat:
		return "float"
	case TagDouble:
		return "double"
	case TagByteArray:
		return "byte_array"
	case TagString:
		return "string"
	case TagList:
		return "list"
	case TagCompound:
		return "compound"
	case TagIntArray:
		return "int_array"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}
