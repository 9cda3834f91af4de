package amfx

import (
	"encoding"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	bigIntPtrType      = reflect.TypeOf((*big.Int)(nil))
	bigFloatPtrType    = reflect.TypeOf((*big.Float)(nil))
	bigRatPtrType      = reflect.TypeOf((*big.Rat)(nil))
	timeType           = reflect.TypeOf(time.Time{})
	textUnmarshalerTyp = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// coerce 把解码得到的值转换为目标字段类型。
// 支持数值收窄（检查溢出与整数性）、字符串到大数/TextUnmarshaler、
// []any 到类型化切片、字符串键容器到类型化 map 以及 *Object 到结构体。
func coerce(v any, t reflect.Type) (reflect.Value, error) {
	return new(coercion).to(v, t)
}

// coercion 记录一次解码内已完成的容器转换。
// 同一个源容器转换到同一目标类型时复用同一结果，保持引用一致，
// 转换开始前即登记，自引用的图不会无限展开。
type coercion struct {
	seen map[coercionKey]coerced
}

type coercionKey struct {
	src uintptr
	n   int
	typ reflect.Type
}

type coerced struct {
	// 持有源值，避免其地址在本次解码内被复用
	src any
	out reflect.Value
}

// identity 返回源容器的身份，空切片与非容器值没有身份。
func identity(v any) (uintptr, int, bool) {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return 0, 0, false
		}
		return reflect.ValueOf(x).Pointer(), len(x), true
	case *ArrayCollection, *Object, *Dictionary, ECMAArray, map[string]any:
		p := reflect.ValueOf(x).Pointer()
		return p, 0, p != 0
	}
	return 0, 0, false
}

func (c *coercion) lookup(v any, t reflect.Type) (reflect.Value, bool) {
	src, n, ok := identity(v)
	if !ok || c.seen == nil {
		return reflect.Value{}, false
	}
	e, ok := c.seen[coercionKey{src: src, n: n, typ: t}]
	return e.out, ok
}

func (c *coercion) remember(v any, t reflect.Type, out reflect.Value) {
	src, n, ok := identity(v)
	if !ok {
		return
	}
	if c.seen == nil {
		c.seen = make(map[coercionKey]coerced)
	}
	c.seen[coercionKey{src: src, n: n, typ: t}] = coerced{src: v, out: out}
}

func (c *coercion) reset() {
	clear(c.seen)
}

func (c *coercion) to(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	if _, ok := v.(UndefinedType); ok {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}

	// 数值按 Unix 毫秒转换为时间
	if t == timeType {
		if ms, ok := integral(rv); ok && rv.Kind() != reflect.String {
			return reflect.ValueOf(time.UnixMilli(ms).UTC()), nil
		}
	}

	switch t {
	case bigIntPtrType:
		return coerceBigInt(v)
	case bigFloatPtrType:
		return coerceBigFloat(v)
	case bigRatPtrType:
		return coerceBigRat(v)
	}

	if s, ok := v.(string); ok && reflect.PointerTo(t).Implements(textUnmarshalerTyp) {
		p := reflect.New(t)
		if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return reflect.Value{}, err
		}
		return p.Elem(), nil
	}

	switch t.Kind() {
	case reflect.Bool:
		if rv.Kind() == reflect.Bool {
			return rv.Convert(t), nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := integral(rv)
		if !ok {
			break
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(n) {
			return reflect.Value{}, errors.Newf("%d overflows %s", n, t)
		}
		out.SetInt(n)
		return out, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, ok := integral(rv)
		if !ok {
			break
		}
		out := reflect.New(t).Elem()
		if n < 0 || out.OverflowUint(uint64(n)) {
			return reflect.Value{}, errors.Newf("%d overflows %s", n, t)
		}
		out.SetUint(uint64(n))
		return out, nil
	case reflect.Float32, reflect.Float64:
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Float32, reflect.Float64:
			return rv.Convert(t), nil
		}
	case reflect.String:
		if rv.Kind() == reflect.String {
			return rv.Convert(t), nil
		}
	case reflect.Slice:
		return c.slice(v, rv, t)
	case reflect.Array:
		if src, ok := v.([]any); ok {
			if len(src) > t.Len() {
				return reflect.Value{}, errors.Newf("%d elements overflow %s", len(src), t)
			}
			out := reflect.New(t).Elem()
			for i, e := range src {
				ev, err := c.to(e, t.Elem())
				if err != nil {
					return reflect.Value{}, errors.Wrapf(err, "index %d", i)
				}
				out.Index(i).Set(ev)
			}
			return out, nil
		}
	case reflect.Map:
		return c.mapOf(v, t)
	case reflect.Struct:
		if obj, ok := v.(*Object); ok {
			p := reflect.New(t)
			if err := c.fillStruct(p.Interface(), obj); err != nil {
				return reflect.Value{}, err
			}
			return p.Elem(), nil
		}
	case reflect.Pointer:
		if rv.Kind() == reflect.Pointer && rv.Type().Elem().AssignableTo(t.Elem()) {
			break
		}
		if obj, ok := v.(*Object); ok && t.Elem().Kind() == reflect.Struct {
			return c.structPointer(obj, t)
		}
		ev, err := c.to(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(ev)
		return p, nil
	}
	return reflect.Value{}, errors.Newf("cannot assign %s to %s", rv.Type(), t)
}

// integral 取出整数值，浮点数必须为整数且落在 int64 范围内。
func integral(rv reflect.Value) (int64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case reflect.String:
		n, err := strconv.ParseInt(rv.String(), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func coerceBigInt(v any) (reflect.Value, error) {
	switch x := v.(type) {
	case string:
		n, ok := new(big.Int).SetString(x, 10)
		if !ok {
			return reflect.Value{}, errors.Newf("invalid integer %q", x)
		}
		return reflect.ValueOf(n), nil
	case int32:
		return reflect.ValueOf(big.NewInt(int64(x))), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return reflect.Value{}, errors.Newf("%v is not an integer", x)
		}
		n, _ := big.NewFloat(x).Int(nil)
		return reflect.ValueOf(n), nil
	}
	return reflect.Value{}, errors.Newf("cannot assign %T to *big.Int", v)
}

func coerceBigFloat(v any) (reflect.Value, error) {
	switch x := v.(type) {
	case string:
		f, _, err := big.ParseFloat(x, 10, 0, big.ToNearestEven)
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "invalid decimal %q", x)
		}
		return reflect.ValueOf(f), nil
	case int32:
		return reflect.ValueOf(new(big.Float).SetInt64(int64(x))), nil
	case float64:
		if math.IsNaN(x) {
			return reflect.Value{}, errors.New("NaN cannot be a *big.Float")
		}
		return reflect.ValueOf(big.NewFloat(x)), nil
	}
	return reflect.Value{}, errors.Newf("cannot assign %T to *big.Float", v)
}

func coerceBigRat(v any) (reflect.Value, error) {
	switch x := v.(type) {
	case string:
		r, ok := new(big.Rat).SetString(x)
		if !ok {
			return reflect.Value{}, errors.Newf("invalid rational %q", x)
		}
		return reflect.ValueOf(r), nil
	case int32:
		return reflect.ValueOf(big.NewRat(int64(x), 1)), nil
	case float64:
		r := new(big.Rat)
		if r.SetFloat64(x) == nil {
			return reflect.Value{}, errors.Newf("%v cannot be a *big.Rat", x)
		}
		return reflect.ValueOf(r), nil
	}
	return reflect.Value{}, errors.Newf("cannot assign %T to *big.Rat", v)
}

func (c *coercion) slice(v any, rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	if t.Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return rv.Convert(t), nil
	}
	var src []any
	switch x := v.(type) {
	case []any:
		src = x
	case *ArrayCollection:
		src = x.Source
	default:
		return reflect.Value{}, errors.Newf("cannot assign %s to %s", rv.Type(), t)
	}
	if out, ok := c.lookup(v, t); ok {
		return out, nil
	}
	out := reflect.MakeSlice(t, len(src), len(src))
	c.remember(v, t, out)
	for i, e := range src {
		ev, err := c.to(e, t.Elem())
		if err != nil {
			return reflect.Value{}, errors.Wrapf(err, "index %d", i)
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

func (c *coercion) mapOf(v any, t reflect.Type) (reflect.Value, error) {
	if out, ok := c.lookup(v, t); ok {
		return out, nil
	}
	out := reflect.MakeMap(t)
	put := func(k, e any) error {
		kv, err := c.to(k, t.Key())
		if err != nil {
			return errors.Wrapf(err, "key %v", k)
		}
		ev, err := c.to(e, t.Elem())
		if err != nil {
			return errors.Wrapf(err, "key %v", k)
		}
		out.SetMapIndex(kv, ev)
		return nil
	}
	switch x := v.(type) {
	case ECMAArray:
		c.remember(v, t, out)
		for k, e := range x {
			if err := put(k, e); err != nil {
				return reflect.Value{}, err
			}
		}
	case map[string]any:
		c.remember(v, t, out)
		for k, e := range x {
			if err := put(k, e); err != nil {
				return reflect.Value{}, err
			}
		}
	case *Object:
		c.remember(v, t, out)
		for _, k := range x.keys {
			if err := put(k, x.values[k]); err != nil {
				return reflect.Value{}, err
			}
		}
	case *Dictionary:
		c.remember(v, t, out)
		for _, e := range x.entries {
			if err := put(e.Key, e.Value); err != nil {
				return reflect.Value{}, err
			}
		}
	default:
		return reflect.Value{}, errors.Newf("cannot assign %T to %s", v, t)
	}
	return out, nil
}

// structPointer 把动态记录转换为结构体指针，同一记录只分配一次。
func (c *coercion) structPointer(obj *Object, t reflect.Type) (reflect.Value, error) {
	if out, ok := c.lookup(obj, t); ok {
		return out, nil
	}
	p := reflect.New(t.Elem())
	c.remember(obj, t, p)
	if err := c.fillStruct(p.Interface(), obj); err != nil {
		return reflect.Value{}, err
	}
	return p, nil
}

// fillStruct 把动态记录的属性写入结构体指针。
func (c *coercion) fillStruct(dst any, obj *Object) error {
	var p StructProxy
	for _, k := range obj.keys {
		if err := p.setValue(c, dst, k, obj.values[k]); err != nil {
			return err
		}
	}
	return nil
}
