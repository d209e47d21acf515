package canonical

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"time"
)

// FromAny converts a decoded JSON-like value into a Value. Supported shapes
// are nil, bool, integers, floats, json.Number, string, time.Time, slices and
// arrays, maps keyed by string, pointers to any of those, Value and Valuer.
// Anything else, including cyclic references, fails with a
// *CanonicalizationError instead of being coerced.
func FromAny(x any) (Value, error) {
	c := converter{active: map[uintptr]struct{}{}}
	return c.convert(x, "$")
}

type converter struct {
	active map[uintptr]struct{}
}

func (c *converter) convert(x any, path string) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Valuer:
		if rv := reflect.ValueOf(x); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Null(), nil
		}
		return t.CanonicalValue(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint:
		return c.fromUint(uint64(t), path)
	case uint64:
		return c.fromUint(t, path)
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return Int(i), nil
		}
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return Value{}, unsupported(path, "malformed number %q", string(t))
		}
		return Float(f), nil
	case time.Time:
		return Time(t), nil
	case []string:
		return Strings(t), nil
	case map[string]string:
		m := make(map[string]Value, len(t))
		for k, v := range t {
			m[k] = String(v)
		}
		return Value{kind: KindMap, m: m}, nil
	}
	return c.reflectValue(reflect.ValueOf(x), path)
}

func (c *converter) fromUint(u uint64, path string) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, unsupported(path, "unsigned integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

func (c *converter) reflectValue(rv reflect.Value, path string) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return c.convert(rv.Elem().Interface(), path)
	case reflect.Slice:
		if rv.IsNil() {
			return Null(), nil
		}
		if rv.Len() > 0 {
			ptr := rv.Pointer()
			if err := c.enter(ptr, path); err != nil {
				return Value{}, err
			}
			defer c.leave(ptr)
		}
		return c.sequence(rv, path)
	case reflect.Array:
		return c.sequence(rv, path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, unsupported(path, "map key type %s is not string", rv.Type().Key())
		}
		if rv.IsNil() {
			return Null(), nil
		}
		ptr := rv.Pointer()
		if err := c.enter(ptr, path); err != nil {
			return Value{}, err
		}
		defer c.leave(ptr)

		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			v, err := c.convert(iter.Value().Interface(), path+"."+k)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Value{kind: KindMap, m: m}, nil
	case reflect.Invalid:
		return Null(), nil
	}
	return Value{}, unsupported(path, "unsupported value of type %s", rv.Type())
}

func (c *converter) sequence(rv reflect.Value, path string) (Value, error) {
	out := make([]Value, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := c.convert(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return Value{}, err
		}
		out[i] = v
	}
	return Value{kind: KindList, list: out}, nil
}

func (c *converter) enter(ptr uintptr, path string) error {
	if _, ok := c.active[ptr]; ok {
		return unsupported(path, "cyclic reference")
	}
	c.active[ptr] = struct{}{}
	return nil
}

func (c *converter) leave(ptr uintptr) {
	delete(c.active, ptr)
}
