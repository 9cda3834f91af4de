package amfx

import (
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// PropertyProxy 隔离编解码器与具体 Go 类型：
// 给出属性序列、读写属性、判断动态/Externalizable、按类型创建实例，
// 并允许在序列化前替换实例、在反序列化完成后替换结果。
type PropertyProxy interface {
	// Alias 返回写入 <object type> 的类型别名，空串表示匿名。
	Alias(instance any) string
	PropertyNames(instance any) []string
	GetValue(instance any, name string) (any, error)
	SetValue(instance any, name string, value any) error
	// IsDynamic 表示实例是否为可任意增删属性的动态容器。
	// 解码时固定形状的记录只会收到 PropertyNames 声明过的属性，其余 trait 被丢弃。
	IsDynamic(instance any) bool
	IsExternalizable(instance any) bool
	// CreateInstance 为别名解析出的 Go 类型创建可写实例（通常为指针）。
	CreateInstance(t reflect.Type) (any, error)
	// InstanceToSerialize 返回真正参与序列化的实例，不能为 nil。
	InstanceToSerialize(instance any) any
	// InstanceComplete 在记录所有属性写入后调用，返回值替换解码结果。
	InstanceComplete(instance any) any
}

// Aliaser 由自行声明远端类型名的类型实现。
type Aliaser interface {
	AMFAlias() string
}

// DefaultProxy 是透传实现，其它内置代理以它为基础。
type DefaultProxy struct{}

func (DefaultProxy) Alias(instance any) string {
	if a, ok := instance.(Aliaser); ok {
		return a.AMFAlias()
	}
	return ""
}

func (DefaultProxy) PropertyNames(any) []string { return nil }

func (DefaultProxy) GetValue(instance any, name string) (any, error) {
	return nil, merr.WrapErrPropertyAccess(typeName(instance), name, "no such property")
}

func (DefaultProxy) SetValue(instance any, name string, _ any) error {
	return merr.WrapErrPropertyAccess(typeName(instance), name, "no such property")
}

func (DefaultProxy) IsDynamic(any) bool { return false }

func (DefaultProxy) IsExternalizable(instance any) bool {
	_, ok := instance.(Externalizable)
	return ok
}

func (DefaultProxy) CreateInstance(t reflect.Type) (any, error) {
	return newInstance(t)
}

func (DefaultProxy) InstanceToSerialize(instance any) any { return instance }

func (DefaultProxy) InstanceComplete(instance any) any { return instance }

// newInstance 为 t 创建可写实例：指针类型分配其元素，map 直接创建，其它类型返回指向零值的指针。
func newInstance(t reflect.Type) (any, error) {
	if t == nil {
		return nil, merr.WrapErrTypeResolution("<nil>", "no Go type")
	}
	switch t.Kind() {
	case reflect.Pointer:
		return reflect.New(t.Elem()).Interface(), nil
	case reflect.Map:
		return reflect.MakeMap(t).Interface(), nil
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, merr.WrapErrTypeResolution(t.String(), "type cannot be instantiated")
	}
	return reflect.New(t).Interface(), nil
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}

// ObjectProxy 处理 *Object。
type ObjectProxy struct {
	DefaultProxy
}

func (ObjectProxy) Alias(instance any) string {
	if o, ok := instance.(*Object); ok {
		return o.Type
	}
	return ""
}

func (ObjectProxy) PropertyNames(instance any) []string {
	if o, ok := instance.(*Object); ok {
		return o.Keys()
	}
	return nil
}

func (ObjectProxy) GetValue(instance any, name string) (any, error) {
	o, ok := instance.(*Object)
	if !ok {
		return nil, merr.WrapErrPropertyAccess(typeName(instance), name, "not an *amfx.Object")
	}
	v, _ := o.Get(name)
	return v, nil
}

func (ObjectProxy) SetValue(instance any, name string, value any) error {
	o, ok := instance.(*Object)
	if !ok {
		return merr.WrapErrPropertyAccess(typeName(instance), name, "not an *amfx.Object")
	}
	o.Set(name, value)
	return nil
}

func (ObjectProxy) IsDynamic(any) bool { return true }

func (ObjectProxy) IsExternalizable(any) bool { return false }

func (ObjectProxy) CreateInstance(reflect.Type) (any, error) {
	return NewObject(""), nil
}

// MapProxy 把键为字符串类型的 map 当作动态记录。
type MapProxy struct {
	DefaultProxy
}

func (MapProxy) PropertyNames(instance any) []string {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil
	}
	m := make(map[string]struct{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = struct{}{}
	}
	return sortedKeys(m)
}

func (MapProxy) GetValue(instance any, name string) (any, error) {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, merr.WrapErrPropertyAccess(typeName(instance), name, "not a string keyed map")
	}
	v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

func (p MapProxy) SetValue(instance any, name string, value any) error {
	return p.setValue(new(coercion), instance, name, value)
}

func (MapProxy) setValue(c *coercion, instance any, name string, value any) error {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
		return merr.WrapErrPropertyAccess(typeName(instance), name, "not a writable string keyed map")
	}
	ev, err := c.to(value, rv.Type().Elem())
	if err != nil {
		return merr.WrapErrPropertyAccess(typeName(instance), name, err.Error())
	}
	rv.SetMapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()), ev)
	return nil
}

func (MapProxy) IsDynamic(any) bool { return true }

// SliceProxy 处理有序集合，属性名为十进制下标。
type SliceProxy struct {
	DefaultProxy
}

func sequenceOf(instance any) (reflect.Value, bool) {
	rv := reflect.ValueOf(instance)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv, true
	}
	return reflect.Value{}, false
}

func (SliceProxy) Len(instance any) int {
	rv, ok := sequenceOf(instance)
	if !ok {
		return 0
	}
	return rv.Len()
}

func (SliceProxy) Index(instance any, i int) any {
	rv, ok := sequenceOf(instance)
	if !ok || i < 0 || i >= rv.Len() {
		return nil
	}
	return rv.Index(i).Interface()
}

func (p SliceProxy) PropertyNames(instance any) []string {
	n := p.Len(instance)
	names := make([]string, n)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return names
}

func (p SliceProxy) GetValue(instance any, name string) (any, error) {
	i, err := strconv.Atoi(name)
	if err != nil || i < 0 || i >= p.Len(instance) {
		return nil, merr.WrapErrPropertyAccess(typeName(instance), name, "index out of range")
	}
	return p.Index(instance, i), nil
}

func (p SliceProxy) SetValue(instance any, name string, value any) error {
	return p.setValue(new(coercion), instance, name, value)
}

func (SliceProxy) setValue(c *coercion, instance any, name string, value any) error {
	rv, ok := sequenceOf(instance)
	i, err := strconv.Atoi(name)
	if !ok || err != nil || i < 0 || i >= rv.Len() {
		return merr.WrapErrPropertyAccess(typeName(instance), name, "index out of range")
	}
	elem := rv.Index(i)
	if !elem.CanSet() {
		return merr.WrapErrPropertyAccess(typeName(instance), name, "sequence is not addressable")
	}
	ev, cerr := c.to(value, elem.Type())
	if cerr != nil {
		return merr.WrapErrPropertyAccess(typeName(instance), name, cerr.Error())
	}
	elem.Set(ev)
	return nil
}

// StructProxy 以反射读写结构体字段。
// 字段名取自 `amf:"name"` 标签，`amf:"-"` 的字段与未导出字段被忽略，嵌入结构体的字段会被提升。
type StructProxy struct {
	DefaultProxy
}

type structField struct {
	name  string
	index []int
}

type structInfo struct {
	fields []structField
	byName map[string]int
}

var structInfoCache sync.Map // reflect.Type -> *structInfo

func getStructInfo(t reflect.Type) *structInfo {
	if v, ok := structInfoCache.Load(t); ok {
		return v.(*structInfo)
	}
	info := &structInfo{byName: make(map[string]int)}
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		name := f.Name
		if tagValue, ok := f.Tag.Lookup("amf"); ok {
			tagName, _, _ := strings.Cut(tagValue, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		if _, dup := info.byName[name]; dup {
			continue
		}
		info.byName[name] = len(info.fields)
		info.fields = append(info.fields, structField{name: name, index: f.Index})
	}
	actual, _ := structInfoCache.LoadOrStore(t, info)
	return actual.(*structInfo)
}

// structOf 返回实例对应的结构体值，writable 表示是否可写。
func structOf(instance any) (rv reflect.Value, writable bool, ok bool) {
	rv = reflect.ValueOf(instance)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, false, false
		}
		rv = rv.Elem()
		writable = true
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, false, false
	}
	return rv, writable, true
}

func (StructProxy) PropertyNames(instance any) []string {
	rv, _, ok := structOf(instance)
	if !ok {
		return nil
	}
	info := getStructInfo(rv.Type())
	names := make([]string, len(info.fields))
	for i, f := range info.fields {
		names[i] = f.name
	}
	return names
}

func (StructProxy) GetValue(instance any, name string) (any, error) {
	rv, _, ok := structOf(instance)
	if !ok {
		return nil, merr.WrapErrPropertyAccess(typeName(instance), name, "not a struct")
	}
	info := getStructInfo(rv.Type())
	i, ok := info.byName[name]
	if !ok {
		return nil, merr.WrapErrPropertyAccess(typeName(instance), name, "no such field")
	}
	fv, err := rv.FieldByIndexErr(info.fields[i].index)
	if err != nil {
		// 经由 nil 嵌入指针的字段视为零值
		return nil, nil
	}
	return fv.Interface(), nil
}

// SetValue 写入字段，未知属性被忽略。
func (p StructProxy) SetValue(instance any, name string, value any) error {
	return p.setValue(new(coercion), instance, name, value)
}

func (StructProxy) setValue(c *coercion, instance any, name string, value any) error {
	rv, writable, ok := structOf(instance)
	if !ok || !writable {
		return merr.WrapErrPropertyAccess(typeName(instance), name, "not a pointer to struct")
	}
	info := getStructInfo(rv.Type())
	i, ok := info.byName[name]
	if !ok {
		return nil
	}
	fv, ok := fieldForSet(rv, info.fields[i].index)
	if !ok {
		return merr.WrapErrPropertyAccess(typeName(instance), name, "field is not settable")
	}
	ev, err := c.to(value, fv.Type())
	if err != nil {
		return merr.WrapErrPropertyAccess(typeName(instance), name, err.Error())
	}
	fv.Set(ev)
	return nil
}

// fieldForSet 沿 index 取字段，途经的 nil 嵌入指针会被分配。
// 嵌入的是未导出类型的指针时无法分配，返回 false。
func fieldForSet(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !v.CanSet() {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, v.CanSet()
}
