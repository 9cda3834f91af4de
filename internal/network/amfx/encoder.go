package amfx

import (
	"bytes"
	"encoding"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// XMLDirective 是消息信封前的 XML 声明。
const XMLDirective = "<?xml version=\"1.0\" encoding=\"utf-8\"?>\r\n"

const (
	minInt28   = -1 << 28
	maxInt28   = 1<<28 - 1
	maxSafeInt = 1 << 53
)

// Encoder 把 Go 值写成 AMFX 文本。
// 引用表在 WriteMessage 开始时清空，连续的 WriteValue 共享同一组引用表。
// Encoder 不是并发安全的。
type Encoder struct {
	opts *options
	buf  bytes.Buffer
	refs *refIndex

	objects     int
	collections int
	// 写 Externalizable 负载时继承的外层深度
	baseObjects     int
	baseCollections int
}

func NewEncoder(opts ...Option) *Encoder {
	return newEncoder(newOptions(opts...))
}

func newEncoder(o *options) *Encoder {
	return &Encoder{opts: o, refs: newRefIndex()}
}

// Bytes 返回已写入的内容，直到下一次写入或 Reset 前有效。
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

func (e *Encoder) Len() int {
	return e.buf.Len()
}

// Reset 清空输出与引用表。
func (e *Encoder) Reset() {
	e.buf.Reset()
	e.refs.reset()
	e.objects, e.collections = 0, 0
	e.baseObjects, e.baseCollections = 0, 0
}

// WriteValue 追加一个值。
func (e *Encoder) WriteValue(v any) error {
	return e.writeValue(v)
}

// WriteMessage 写出完整的消息信封。
func (e *Encoder) WriteMessage(m *ActionMessage) error {
	if m == nil {
		return merr.WrapErrParameterInvalidMsg("nil action message")
	}
	e.refs.reset()
	version := m.Version
	if version == 0 {
		version = CurrentVersion
	}
	e.buf.WriteString(XMLDirective)
	e.buf.WriteString(`<amfx ver="`)
	e.buf.WriteString(strconv.Itoa(version))
	e.buf.WriteString(`">`)
	for _, h := range m.Headers {
		if h == nil {
			continue
		}
		e.buf.WriteString("<header")
		e.writeAttr("name", h.Name)
		if h.MustUnderstand {
			e.writeAttr("mustUnderstand", "true")
		}
		e.buf.WriteByte('>')
		if err := e.writeValue(h.Data); err != nil {
			return err
		}
		e.buf.WriteString("</header>")
	}
	for _, b := range m.Bodies {
		if b == nil {
			continue
		}
		e.buf.WriteString("<body")
		if b.TargetURI != "" {
			e.writeAttr("targetURI", b.TargetURI)
		}
		if b.ResponseURI != "" {
			e.writeAttr("responseURI", b.ResponseURI)
		}
		e.buf.WriteByte('>')
		if err := e.writeValue(b.Data); err != nil {
			return err
		}
		e.buf.WriteString("</body>")
	}
	e.buf.WriteString("</amfx>")
	return nil
}

func (e *Encoder) writeValue(v any) error {
	return e.encode(v, true)
}

// encode 按固定优先级选择编码路径，substitute 为 false 时记录不再调用 InstanceToSerialize。
func (e *Encoder) encode(v any, substitute bool) error {
	if v == nil || isNil(v) {
		e.empty(tagNull)
		return nil
	}
	if _, ok := v.(UndefinedType); ok {
		e.empty(tagUndefined)
		return nil
	}
	if !e.opts.cfg.LegacyExternalizable {
		if _, ok := v.(Externalizable); ok {
			return e.writeRecord(v, e.opts.proxies.Lookup(v), substitute)
		}
	} else if ac, ok := v.(*ArrayCollection); ok && e.opts.cfg.LegacyCollection {
		return e.writeArray(reflect.ValueOf(ac.Source))
	}

	switch x := v.(type) {
	case string:
		e.writeString(x)
		return nil
	case []rune:
		e.writeString(string(x))
		return nil
	case bool:
		e.writeBool(x)
		return nil
	case int:
		return e.writeInt(int64(x))
	case int8:
		return e.writeInt(int64(x))
	case int16:
		return e.writeInt(int64(x))
	case int32:
		return e.writeInt(int64(x))
	case int64:
		return e.writeInt(x)
	case uint:
		return e.writeUint(uint64(x))
	case uint8:
		return e.writeUint(uint64(x))
	case uint16:
		return e.writeUint(uint64(x))
	case uint32:
		return e.writeUint(uint64(x))
	case uint64:
		return e.writeUint(x)
	case float32:
		e.writeDouble(float64(x))
		return nil
	case float64:
		e.writeDouble(x)
		return nil
	case *big.Int:
		return e.writeBig(x.String(), func() float64 { f, _ := new(big.Float).SetInt(x).Float64(); return f })
	case *big.Float:
		return e.writeBig(x.Text('g', -1), func() float64 { f, _ := x.Float64(); return f })
	case *big.Rat:
		return e.writeBig(x.RatString(), func() float64 { f, _ := x.Float64(); return f })
	case time.Time:
		e.refs.object(reflect.Value{})
		e.writeDate(x)
		return nil
	case *time.Time:
		if id, hit := e.refs.object(reflect.ValueOf(x)); hit {
			e.writeRef(id)
			return nil
		}
		e.writeDate(*x)
		return nil
	case XMLDocument:
		e.buf.WriteString("<xml>")
		e.escape(string(x))
		e.buf.WriteString("</xml>")
		return nil
	case []byte:
		e.writeBytes(x, reflect.ValueOf(x))
		return nil
	}

	if p, ok := e.opts.proxies.Registered(v); ok {
		return e.writeRecord(v, p, substitute)
	}
	if tm, ok := v.(encoding.TextMarshaler); ok {
		text, err := tm.MarshalText()
		if err != nil {
			return merr.WrapErrPropertyAccess(typeName(v), "", err.Error())
		}
		e.writeString(string(text))
		return nil
	}

	switch x := v.(type) {
	case *Object:
		return e.writeRecord(x, ObjectProxy{}, substitute)
	case ECMAArray:
		return e.writeECMA(reflect.ValueOf(x))
	case *Dictionary:
		return e.writeDictionary(reflect.ValueOf(x), x.entries)
	case []any:
		return e.writeArray(reflect.ValueOf(x))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		e.writeString(rv.String())
		return nil
	case reflect.Bool:
		e.writeBool(rv.Bool())
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return e.writeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		e.writeDouble(rv.Float())
		return nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			e.writeBytes(rv.Bytes(), rv)
			return nil
		}
		return e.writeArray(rv)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			e.writeBytes(b, reflect.Value{})
			return nil
		}
		return e.writeArray(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			if e.opts.cfg.LegacyMap {
				return e.writeECMA(rv)
			}
			return e.writeRecord(v, e.opts.proxies.Lookup(v), substitute)
		}
		if e.opts.cfg.LegacyDictionary {
			return e.writeECMA(rv)
		}
		return e.writeDictionary(rv, mapEntries(rv))
	case reflect.Pointer:
		if rv.Elem().Kind() == reflect.Struct {
			return e.writeRecord(v, e.opts.proxies.Lookup(v), substitute)
		}
		return e.encode(rv.Elem().Interface(), substitute)
	case reflect.Struct:
		return e.writeRecord(v, e.opts.proxies.Lookup(v), substitute)
	}
	return merr.WrapErrUnsupportedValue(typeName(v))
}

func isNil(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func (e *Encoder) enter(collection bool) error {
	depth := e.baseObjects + e.objects + 1
	if limit := e.opts.cfg.MaxObjectNestLevel; depth > limit {
		return merr.WrapErrNestingLimitExceeded("object", depth, limit)
	}
	if collection {
		cdepth := e.baseCollections + e.collections + 1
		if limit := e.opts.cfg.MaxCollectionNestLevel; cdepth > limit {
			return merr.WrapErrNestingLimitExceeded("collection", cdepth, limit)
		}
		e.collections++
	}
	e.objects++
	return nil
}

func (e *Encoder) leave(collection bool) {
	e.objects--
	if collection {
		e.collections--
	}
}

func (e *Encoder) empty(t tag) {
	e.buf.WriteByte('<')
	e.buf.WriteString(t.String())
	e.buf.WriteString("/>")
}

func (e *Encoder) writeAttr(name, value string) {
	e.buf.WriteByte(' ')
	e.buf.WriteString(name)
	e.buf.WriteString(`="`)
	e.escape(value)
	e.buf.WriteByte('"')
}

func (e *Encoder) escape(s string) {
	// bytes.Buffer 的写入不会失败
	_ = xml.EscapeText(&e.buf, []byte(s))
}

func (e *Encoder) writeRef(id int) {
	e.buf.WriteString(`<ref id="`)
	e.buf.WriteString(strconv.Itoa(id))
	e.buf.WriteString(`"/>`)
}

// writeString 写字符串，重复出现的非空字符串按内容引用。
func (e *Encoder) writeString(s string) {
	if s == "" {
		e.empty(tagString)
		return
	}
	if id, hit := e.refs.string(s); hit {
		e.buf.WriteString(`<string id="`)
		e.buf.WriteString(strconv.Itoa(id))
		e.buf.WriteString(`"/>`)
		return
	}
	e.buf.WriteString("<string>")
	e.escape(s)
	e.buf.WriteString("</string>")
}

func (e *Encoder) writeBool(b bool) {
	if b {
		e.empty(tagTrue)
	} else {
		e.empty(tagFalse)
	}
}

// writeInt 在 29 位有符号范围内写 <int>，2^53 以内写 <double>，更大的值写成十进制字符串。
func (e *Encoder) writeInt(n int64) error {
	switch {
	case n >= minInt28 && n <= maxInt28:
		e.buf.WriteString("<int>")
		e.buf.WriteString(strconv.FormatInt(n, 10))
		e.buf.WriteString("</int>")
	case n >= -maxSafeInt && n <= maxSafeInt:
		e.buf.WriteString("<double>")
		e.buf.WriteString(strconv.FormatInt(n, 10))
		e.buf.WriteString("</double>")
	case e.opts.cfg.LegacyBigNumbers:
		e.writeDouble(float64(n))
	default:
		e.writeString(strconv.FormatInt(n, 10))
	}
	return nil
}

func (e *Encoder) writeUint(n uint64) error {
	if n <= math.MaxInt64 {
		return e.writeInt(int64(n))
	}
	if e.opts.cfg.LegacyBigNumbers {
		e.writeDouble(float64(n))
		return nil
	}
	e.writeString(strconv.FormatUint(n, 10))
	return nil
}

func (e *Encoder) writeBig(text string, legacy func() float64) error {
	if e.opts.cfg.LegacyBigNumbers {
		e.writeDouble(legacy())
		return nil
	}
	e.writeString(text)
	return nil
}

func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (e *Encoder) writeDouble(f float64) {
	e.buf.WriteString("<double>")
	e.buf.WriteString(formatDouble(f))
	e.buf.WriteString("</double>")
}

func (e *Encoder) writeDate(t time.Time) {
	e.buf.WriteString("<date>")
	e.buf.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
	e.buf.WriteString("</date>")
}

// writeBytes 写大写十六进制的 <bytearray>，开启 ByteArraysByReference 时按身份引用。
func (e *Encoder) writeBytes(b []byte, rv reflect.Value) {
	if e.opts.cfg.ByteArraysByReference {
		if id, hit := e.refs.object(rv); hit {
			e.writeRef(id)
			return
		}
	}
	e.buf.WriteString("<bytearray>")
	e.buf.WriteString(strings.ToUpper(hex.EncodeToString(b)))
	e.buf.WriteString("</bytearray>")
}

func (e *Encoder) writeArray(rv reflect.Value) error {
	if id, hit := e.refs.object(rv); hit {
		e.writeRef(id)
		return nil
	}
	if err := e.enter(true); err != nil {
		return err
	}
	defer e.leave(true)
	n := rv.Len()
	e.buf.WriteString(`<array length="`)
	e.buf.WriteString(strconv.Itoa(n))
	e.buf.WriteString(`">`)
	for i := 0; i < n; i++ {
		if err := e.writeValue(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	e.buf.WriteString("</array>")
	return nil
}

// writeECMA 以具名 <item> 写出字符串键的关联数组，非字符串键按 fmt 格式化。
func (e *Encoder) writeECMA(rv reflect.Value) error {
	if id, hit := e.refs.object(rv); hit {
		e.writeRef(id)
		return nil
	}
	if err := e.enter(true); err != nil {
		return err
	}
	defer e.leave(true)
	items := make(map[string]reflect.Value, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		if k.Kind() == reflect.String {
			items[k.String()] = iter.Value()
		} else {
			items[fmt.Sprint(k.Interface())] = iter.Value()
		}
	}
	e.buf.WriteString(`<array ecma="true">`)
	for _, k := range sortedKeys(items) {
		if !validName(k) {
			return merr.WrapErrUnsupportedValue(typeName(rv.Interface()), fmt.Sprintf("invalid item name %q", k))
		}
		e.buf.WriteString("<item")
		e.writeAttr("name", k)
		e.buf.WriteByte('>')
		if err := e.writeValue(items[k].Interface()); err != nil {
			return err
		}
		e.buf.WriteString("</item>")
	}
	e.buf.WriteString("</array>")
	return nil
}

func mapEntries(rv reflect.Value) []DictionaryEntry {
	entries := make([]DictionaryEntry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, DictionaryEntry{Key: iter.Key().Interface(), Value: iter.Value().Interface()})
	}
	// map 的遍历顺序不稳定，按键的文本排序保证输出确定
	slices.SortFunc(entries, func(a, b DictionaryEntry) int {
		return strings.Compare(fmt.Sprint(a.Key), fmt.Sprint(b.Key))
	})
	return entries
}

func (e *Encoder) writeDictionary(rv reflect.Value, entries []DictionaryEntry) error {
	if id, hit := e.refs.object(rv); hit {
		e.writeRef(id)
		return nil
	}
	if err := e.enter(true); err != nil {
		return err
	}
	defer e.leave(true)
	e.buf.WriteString(`<dictionary length="`)
	e.buf.WriteString(strconv.Itoa(len(entries)))
	e.buf.WriteString(`">`)
	for _, entry := range entries {
		if err := e.writeValue(entry.Key); err != nil {
			return err
		}
		if err := e.writeValue(entry.Value); err != nil {
			return err
		}
	}
	e.buf.WriteString("</dictionary>")
	return nil
}

// writeRecord 写出 <object>。先按原实例查引用，再经 InstanceToSerialize 取得真正写出的实例。
func (e *Encoder) writeRecord(v any, p PropertyProxy, substitute bool) error {
	rv := reflect.ValueOf(v)
	if h, ok := identityOf(rv); ok {
		if id, hit := e.refs.objects[h]; hit {
			e.writeRef(id)
			return nil
		}
	}

	inst := v
	if substitute {
		err := guard(func(reason string) error {
			return merr.WrapErrPropertyAccess(typeName(v), "", reason)
		}, func() error {
			inst = p.InstanceToSerialize(v)
			return nil
		})
		if err != nil {
			return err
		}
		if inst == nil {
			return merr.WrapErrPropertyAccess(typeName(v), "", "instance to serialize is nil")
		}
		if !sameValue(inst, v) {
			next := e.refs.objectNext
			if err := e.encode(inst, false); err != nil {
				return err
			}
			if e.refs.objectNext > next {
				e.refs.alias(rv, next)
			}
			return nil
		}
	}

	e.refs.object(rv)
	if err := e.enter(false); err != nil {
		return err
	}
	defer e.leave(false)

	alias, ext, names, err := e.describe(inst, p)
	if err != nil {
		return err
	}
	e.buf.WriteString("<object")
	if alias != "" {
		e.writeAttr("type", alias)
	}
	e.buf.WriteByte('>')
	e.writeTraits(&Traits{Alias: alias, Externalizable: ext, Names: names})

	if ext {
		payload, err := e.externalPayload(alias, inst)
		if err != nil {
			return err
		}
		e.writeBytes(payload, reflect.ValueOf(payload))
	} else {
		for _, name := range names {
			var value any
			err := guard(func(reason string) error {
				return merr.WrapErrPropertyAccess(typeName(inst), name, reason)
			}, func() error {
				var gerr error
				value, gerr = p.GetValue(inst, name)
				return gerr
			})
			if err != nil {
				return err
			}
			if err := e.writeValue(value); err != nil {
				return err
			}
		}
	}
	e.buf.WriteString("</object>")
	return nil
}

// describe 通过代理取得别名、是否 Externalizable 以及属性名序列。
func (e *Encoder) describe(inst any, p PropertyProxy) (alias string, ext bool, names []string, err error) {
	err = guard(func(reason string) error {
		return merr.WrapErrPropertyAccess(typeName(inst), "", reason)
	}, func() error {
		alias = p.Alias(inst)
		if alias == "" {
			alias, _ = e.opts.aliases.AliasOf(reflect.TypeOf(inst))
		}
		ext = !e.opts.cfg.LegacyExternalizable && p.IsExternalizable(inst)
		if !ext {
			names = p.PropertyNames(inst)
		}
		return nil
	})
	if err != nil {
		return "", false, nil, err
	}
	for _, name := range names {
		if !validName(name) {
			return "", false, nil, merr.WrapErrPropertyAccess(typeName(inst), name, "invalid property name")
		}
	}
	return alias, ext, names, nil
}

func (e *Encoder) writeTraits(t *Traits) {
	if !t.shared() {
		e.empty(tagTraits)
		return
	}
	if id, hit := e.refs.traitsRef(t); hit {
		e.buf.WriteString(`<traits id="`)
		e.buf.WriteString(strconv.Itoa(id))
		e.buf.WriteString(`"/>`)
		return
	}
	if t.Externalizable {
		e.buf.WriteString(`<traits externalizable="true" />`)
		return
	}
	if len(t.Names) == 0 {
		e.empty(tagTraits)
		return
	}
	e.buf.WriteString("<traits>")
	for _, name := range t.Names {
		e.writeString(name)
	}
	e.buf.WriteString("</traits>")
}

// externalPayload 用独立引用表的编码器收集 WriteExternal 写出的值。
func (e *Encoder) externalPayload(alias string, inst any) ([]byte, error) {
	ext, ok := inst.(Externalizable)
	if !ok {
		return nil, merr.WrapErrExternalizable(alias, errors.Newf("%s does not implement Externalizable", typeName(inst)))
	}
	ne := newEncoder(e.opts)
	ne.baseObjects = e.baseObjects + e.objects
	ne.baseCollections = e.baseCollections + e.collections
	err := guard(func(reason string) error {
		return merr.WrapErrExternalizable(alias, errors.New(reason))
	}, func() error {
		if werr := ext.WriteExternal(&ObjectOutput{enc: ne}); werr != nil {
			if merr.IsCodecError(werr) {
				return werr
			}
			return merr.WrapErrExternalizable(alias, werr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(ne.Bytes()), nil
}
