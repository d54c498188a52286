package nbt

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"reflect"

	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

// gzipMagic prefixes payloads written by releases that compressed every payload.
var gzipMagic = []byte{0x1f, 0x8b, 0x08}

const (
	// maxDecompressed bounds legacy payload expansion.
	maxDecompressed = 16 << 20
	// maxDepth bounds compound/list nesting on decode.
	maxDepth = 512
)

// Encode serializes a compound as a nameless root tag.
func Encode(c Compound) ([]byte, error) {
	root, err := toWire(c)
	if err != nil {
		return nil, err
	}
	data, err := nbt.MarshalEncoding(root, nbt.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}

// MustEncode is Encode for values built by this program; an unsupported value
// is a bug, not a data condition, so it panics.
func MustEncode(c Compound) []byte {
	data, err := Encode(c)
	if err != nil {
		panic(fmt.Sprintf("nbt: encode: %v", err))
	}
	return data
}

// EncodeCompressed serializes a compound and gzips the result.
func EncodeCompressed(c Compound) ([]byte, error) {
	raw, err := Encode(c)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// IsCompressed reports whether data starts with the gzip magic.
func IsCompressed(data []byte) bool {
	return len(data) >= len(gzipMagic) && bytes.Equal(data[:len(gzipMagic)], gzipMagic)
}

// Decode parses bytes produced by Encode or EncodeCompressed. Any failure is
// reported as ErrCorrupted.
func Decode(data []byte) (Compound, error) {
	if IsCompressed(data) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(io.LimitReader(zr, maxDecompressed+1))
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupted, err)
		}
		if len(raw) > maxDecompressed {
			return nil, fmt.Errorf("%w: decompressed payload too large", ErrCorrupted)
		}
		data = raw
	}

	root, err := decodeRoot(data)
	if err != nil {
		return nil, err
	}
	v, err := fromWire(root, 0)
	if err != nil {
		return nil, err
	}
	return v.(Compound), nil
}

func decodeRoot(data []byte) (root map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCorrupted, r)
		}
	}()

	r := bytes.NewReader(data)
	if err := nbt.NewDecoderWithEncoding(r, nbt.LittleEndian).Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupted, r.Len())
	}
	return root, nil
}

// toWire converts a compound to the Go values the wire encoder maps to tags.
// Byte tags travel as uint8 and byte/int arrays as fixed-size Go arrays.
func toWire(v any) (any, error) {
	t, err := typeOf(v)
	if err != nil {
		return nil, err
	}
	switch t {
	case TagByte:
		return uint8(v.(int8)), nil
	case TagByteArray:
		return toArray(v.([]byte)), nil
	case TagIntArray:
		return toArray(v.([]int32)), nil
	case TagCompound:
		c := v.(Compound)
		out := make(map[string]any, len(c))
		for k, item := range c {
			w, err := toWire(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = w
		}
		return out, nil
	case TagList:
		l := v.(List)
		out := reflect.MakeSlice(reflect.SliceOf(wireType(l.Type)), 0, len(l.Items))
		for i, item := range l.Items {
			it, err := typeOf(item)
			if err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			if it != l.Type {
				return nil, fmt.Errorf("list item %d: %w: %s in %s list", i, ErrUnsupportedValue, it, l.Type)
			}
			w, err := toWire(item)
			if err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			out = reflect.Append(out, reflect.ValueOf(w))
		}
		return out.Interface(), nil
	default:
		return v, nil
	}
}

func toArray[T any](s []T) any {
	arr := reflect.New(reflect.ArrayOf(len(s), reflect.TypeFor[T]())).Elem()
	reflect.Copy(arr, reflect.ValueOf(s))
	return arr.Interface()
}

// wireType is the slice element type used to encode a list of t.
func wireType(t TagType) reflect.Type {
	switch t {
	case TagByte:
		return reflect.TypeFor[uint8]()
	case TagShort:
		return reflect.TypeFor[int16]()
	case TagInt:
		return reflect.TypeFor[int32]()
	case TagLong:
		return reflect.TypeFor[int64]()
	case TagFloat:
		return reflect.TypeFor[float32]()
	case TagDouble:
		return reflect.TypeFor[float64]()
	case TagString:
		return reflect.TypeFor[string]()
	case TagCompound, TagEnd:
		return reflect.TypeFor[map[string]any]()
	default:
		return reflect.TypeFor[any]()
	}
}

// fromWire converts decoded wire values back to compound values. An empty
// list decodes with TagEnd since the element type is not kept.
func fromWire(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrCorrupted)
	}
	switch t := v.(type) {
	case uint8:
		return int8(t), nil
	case int8, int16, int32, int64, float32, float64, string:
		return t, nil
	case map[string]any:
		out := make(Compound, len(t))
		for k, item := range t {
			c, err := fromWire(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array:
		switch rv.Type().Elem().Kind() {
		case reflect.Uint8:
			out := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(out), rv)
			return out, nil
		case reflect.Int32:
			out := make([]int32, rv.Len())
			reflect.Copy(reflect.ValueOf(out), rv)
			return out, nil
		}
	case reflect.Slice:
		l := List{Type: TagEnd, Items: make([]any, 0, rv.Len())}
		for i := 0; i < rv.Len(); i++ {
			item, err := fromWire(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			it, err := typeOf(item)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
			}
			if i == 0 {
				l.Type = it
			} else if it != l.Type {
				return nil, fmt.Errorf("%w: %s in %s list", ErrCorrupted, it, l.Type)
			}
			l.Items = append(l.Items, item)
		}
		return l, nil
	}
	return nil, fmt.Errorf("%w: unsupported tag value %T", ErrCorrupted, v)
}
