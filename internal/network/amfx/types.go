package amfx

import (
	"reflect"
	"sort"
	"strconv"
)

// UndefinedType 对应 AMF 的 undefined，与 nil（null）区分。
type UndefinedType struct{}

// Undefined 是 UndefinedType 的唯一取值。
var Undefined = UndefinedType{}

// XMLDocument 保存 <xml> 元素内的原始 XML 文本，编解码器不解析其内容。
type XMLDocument string

// ECMAArray 是以字符串为键的关联数组，混合内容中的匿名元素使用 "0"、"1" ... 作为键。
type ECMAArray map[string]any

// Object 是带可选类型名的动态记录，属性按首次写入顺序保存。
type Object struct {
	// Type 为远端类型名，匿名对象为空。
	Type   string
	keys   []string
	values map[string]any
}

// NewObject 创建一个类型名为 typeName 的空记录。
func NewObject(typeName string) *Object {
	return &Object{Type: typeName, values: make(map[string]any)}
}

// Set 写入属性，新属性追加在属性序列末尾。
func (o *Object) Set(key string, value any) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Delete 删除属性，不存在时忽略。
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys 返回属性名序列的副本。
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

func (o *Object) Len() int {
	return len(o.keys)
}

// DictionaryEntry 是 Dictionary 中的一个键值对。
type DictionaryEntry struct {
	Key   any
	Value any
}

// Dictionary 是允许任意类型键的有序映射。
// 可比较的键按 == 去重，不可比较的键（如切片）总是追加为新条目。
type Dictionary struct {
	entries []DictionaryEntry
}

func NewDictionary() *Dictionary {
	return &Dictionary{}
}

func (d *Dictionary) indexOf(key any) int {
	if key != nil && !reflect.TypeOf(key).Comparable() {
		return -1
	}
	for i := range d.entries {
		k := d.entries[i].Key
		if k != nil && !reflect.TypeOf(k).Comparable() {
			continue
		}
		if k == key {
			return i
		}
	}
	return -1
}

// Set 写入键值对，已存在的键覆盖原值。
func (d *Dictionary) Set(key, value any) {
	if i := d.indexOf(key); i >= 0 {
		d.entries[i].Value = value
		return
	}
	d.entries = append(d.entries, DictionaryEntry{Key: key, Value: value})
}

func (d *Dictionary) Get(key any) (any, bool) {
	if i := d.indexOf(key); i >= 0 {
		return d.entries[i].Value, true
	}
	return nil, false
}

func (d *Dictionary) Len() int {
	return len(d.entries)
}

// Entries 返回条目的副本。
func (d *Dictionary) Entries() []DictionaryEntry {
	return append([]DictionaryEntry(nil), d.entries...)
}

// 内置类型在校验钩子中使用的类名。
const (
	ClassObject     = "Object"
	ClassArray      = "Array"
	ClassECMAArray  = "ECMAArray"
	ClassDictionary = "Dictionary"
	ClassString     = "String"
	ClassInt        = "int"
	ClassNumber     = "Number"
	ClassBoolean    = "Boolean"
	ClassDate       = "Date"
	ClassByteArray  = "ByteArray"
	ClassXML        = "XML"
)

type tag uint8

const (
	tagUnknown tag = iota
	tagAMFX
	tagHeader
	tagBody
	tagObject
	tagTraits
	tagArray
	tagDictionary
	tagItem
	tagRef
	tagString
	tagInt
	tagDouble
	tagDate
	tagByteArray
	tagXML
	tagTrue
	tagFalse
	tagNull
	tagUndefined
)

var tagNames = [...]string{
	tagUnknown:    "",
	tagAMFX:       "amfx",
	tagHeader:     "header",
	tagBody:       "body",
	tagObject:     "object",
	tagTraits:     "traits",
	tagArray:      "array",
	tagDictionary: "dictionary",
	tagItem:       "item",
	tagRef:        "ref",
	tagString:     "string",
	tagInt:        "int",
	tagDouble:     "double",
	tagDate:       "date",
	tagByteArray:  "bytearray",
	tagXML:        "xml",
	tagTrue:       "true",
	tagFalse:      "false",
	tagNull:       "null",
	tagUndefined:  "undefined",
}

var tagsByName = func() map[string]tag {
	m := make(map[string]tag, len(tagNames))
	for t, name := range tagNames {
		if name != "" {
			m[name] = tag(t)
		}
	}
	return m
}()

func lookupTag(name string) tag {
	return tagsByName[name]
}

func (t tag) String() string {
	if int(t) < len(tagNames) && t != tagUnknown {
		return tagNames[t]
	}
	return "tag(" + strconv.Itoa(int(t)) + ")"
}

// validName 校验 traits 与 item 名：非空且首字符为 ASCII 字母、数字或下划线。
func validName(name string) bool {
	if name == "" {
		return false
	}
	c := name[0]
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// sortedKeys 返回关联数组的稳定键序：纯数字键按数值升序在前，其余按字典序。
func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aErr := strconv.ParseUint(keys[i], 10, 64)
		b, bErr := strconv.ParseUint(keys[j], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}
