// Package clone copies values across a context boundary.
//
// Only structurally cloneable values may cross: nil, booleans, numbers,
// strings, slices/arrays of cloneable values and maps keyed by strings.
// Pointers are followed. Byte slices arrive as arrays of numbers, and invalid
// UTF-8 in strings is replaced with U+FFFD. Functions, channels, structs (which covers
// DOM nodes) and cyclic structures are rejected with types.ErrSerialization.
//
// The copy goes through protobuf's structpb representation, so numbers come
// back as float64 and nested collections as []any and map[string]any, the
// same shapes a JSON round trip would produce.
package clone

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/entrhq/courier/pkg/types"
	"google.golang.org/protobuf/types/known/structpb"
)

// Clone returns a deep, detached copy of v.
func Clone(v any) (any, error) {
	pv, err := ToValue(v)
	if err != nil {
		return nil, err
	}
	return pv.AsInterface(), nil
}

// ToValue converts v into its structpb form.
func ToValue(v any) (*structpb.Value, error) {
	plain, err := normalize(reflect.ValueOf(v), make(map[visit]bool), "$")
	if err != nil {
		return nil, err
	}
	pv, err := structpb.NewValue(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSerialization, err)
	}
	return pv, nil
}

// visit identifies a reference-typed value on the current path.
type visit struct {
	kind reflect.Kind
	ptr  uintptr
}

func normalize(v reflect.Value, path map[visit]bool, at string) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return validUTF8(v.String()), nil

	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return normalize(v.Elem(), path, at)

	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		key := visit{kind: reflect.Pointer, ptr: v.Pointer()}
		if path[key] {
			return nil, cyclic(at)
		}
		path[key] = true
		defer delete(path, key)
		return normalize(v.Elem(), path, at)

	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return bytesToList(v.Bytes()), nil
		}
		key := visit{kind: reflect.Slice, ptr: v.Pointer()}
		if path[key] {
			return nil, cyclic(at)
		}
		path[key] = true
		defer delete(path, key)
		return normalizeList(v, path, at)

	case reflect.Array:
		return normalizeList(v, path, at)

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map with %s keys at %s", types.ErrSerialization, v.Type().Key(), at)
		}
		if v.IsNil() {
			return nil, nil
		}
		key := visit{kind: reflect.Map, ptr: v.Pointer()}
		if path[key] {
			return nil, cyclic(at)
		}
		path[key] = true
		defer delete(path, key)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k := validUTF8(iter.Key().String())
			elem, err := normalize(iter.Value(), path, at+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = elem
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %s value at %s", types.ErrSerialization, v.Type(), at)
}

func normalizeList(v reflect.Value, path map[visit]bool, at string) (any, error) {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem, err := normalize(v.Index(i), path, fmt.Sprintf("%s[%d]", at, i))
		if err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}

func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func bytesToList(b []byte) []any {
	out := make([]any, len(b))
	for i, c := range b {
		out[i] = uint64(c)
	}
	return out
}

func cyclic(at string) error {
	return fmt.Errorf("%w: cyclic reference at %s", types.ErrSerialization, at)
}
