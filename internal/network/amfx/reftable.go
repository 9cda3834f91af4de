package amfx

import (
	"reflect"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

const (
	objectTableName = "object"
	stringTableName = "string"
	traitsTableName = "traits"

	defaultTableCapacity = 64
)

// ObjectTable 按构造顺序为复合值分配序号，序号从 0 开始且在单条消息内不复用。
type ObjectTable struct {
	values []any
}

func NewObjectTable() *ObjectTable {
	return &ObjectTable{values: make([]any, 0, defaultTableCapacity)}
}

// Add 登记一个值并返回其序号。
func (t *ObjectTable) Add(v any) int {
	t.values = append(t.values, v)
	return len(t.values) - 1
}

// Get 按序号取值，越界返回 UnknownReference。
func (t *ObjectTable) Get(id int) (any, error) {
	if id < 0 || id >= len(t.values) {
		return nil, merr.WrapErrUnknownReference(objectTableName, id, len(t.values))
	}
	return t.values[id], nil
}

// Patch 用最终值替换已登记的条目。
func (t *ObjectTable) Patch(id int, v any) error {
	if id < 0 || id >= len(t.values) {
		return merr.WrapErrUnknownReference(objectTableName, id, len(t.values))
	}
	t.values[id] = v
	return nil
}

func (t *ObjectTable) Len() int {
	return len(t.values)
}

// Reset 清空表，保留底层容量。
func (t *ObjectTable) Reset() {
	clear(t.values)
	t.values = t.values[:0]
}

// StringTable 保存非空字符串，空串从不登记。
type StringTable struct {
	values []string
}

func NewStringTable() *StringTable {
	return &StringTable{values: make([]string, 0, defaultTableCapacity)}
}

// Add 登记字符串，空串返回 -1。
func (t *StringTable) Add(s string) int {
	if s == "" {
		return -1
	}
	t.values = append(t.values, s)
	return len(t.values) - 1
}

func (t *StringTable) Get(id int) (string, error) {
	if id < 0 || id >= len(t.values) {
		return "", merr.WrapErrUnknownReference(stringTableName, id, len(t.values))
	}
	return t.values[id], nil
}

func (t *StringTable) Len() int {
	return len(t.values)
}

func (t *StringTable) Reset() {
	t.values = t.values[:0]
}

// TraitsTable 保存 traits 描述。
type TraitsTable struct {
	values []*Traits
}

func NewTraitsTable() *TraitsTable {
	return &TraitsTable{values: make([]*Traits, 0, 10)}
}

func (t *TraitsTable) Add(tr *Traits) int {
	t.values = append(t.values, tr)
	return len(t.values) - 1
}

func (t *TraitsTable) Get(id int) (*Traits, error) {
	if id < 0 || id >= len(t.values) {
		return nil, merr.WrapErrUnknownReference(traitsTableName, id, len(t.values))
	}
	return t.values[id], nil
}

func (t *TraitsTable) Len() int {
	return len(t.values)
}

func (t *TraitsTable) Reset() {
	clear(t.values)
	t.values = t.values[:0]
}

// handle 是编码端对象表的身份键：类型、底层指针与长度。
// 长度参与比较，使同一底层数组上长度不同的切片视为不同对象。
type handle struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

// identityOf 返回值的身份键，不具备稳定身份的值（结构体值、零长切片等）返回 false。
func identityOf(rv reflect.Value) (handle, bool) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		if rv.IsNil() {
			return handle{}, false
		}
		return handle{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return handle{}, false
		}
		return handle{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}, true
	}
	return handle{}, false
}

// refIndex 是编码端三张表的索引：对象按身份、字符串按内容、traits 按结构。
type refIndex struct {
	objects    map[handle]int
	objectNext int
	strings    map[string]int
	traits     map[string]int
}

func newRefIndex() *refIndex {
	return &refIndex{
		objects: make(map[handle]int),
		strings: make(map[string]int),
		traits:  make(map[string]int),
	}
}

// object 返回已登记的序号；未登记时分配新序号，可登记身份的值同时写入索引。
func (r *refIndex) object(rv reflect.Value) (int, bool) {
	h, ok := identityOf(rv)
	if ok {
		if id, hit := r.objects[h]; hit {
			return id, true
		}
	}
	id := r.objectNext
	r.objectNext++
	if ok {
		r.objects[h] = id
	}
	return id, false
}

// alias 把另一个身份键指向已分配的序号。
func (r *refIndex) alias(rv reflect.Value, id int) {
	if h, ok := identityOf(rv); ok {
		r.objects[h] = id
	}
}

func (r *refIndex) string(s string) (int, bool) {
	if id, hit := r.strings[s]; hit {
		return id, true
	}
	r.strings[s] = len(r.strings)
	return 0, false
}

func (r *refIndex) traitsRef(t *Traits) (int, bool) {
	k := t.key()
	if id, hit := r.traits[k]; hit {
		return id, true
	}
	r.traits[k] = len(r.traits)
	return 0, false
}

func (r *refIndex) reset() {
	clear(r.objects)
	clear(r.strings)
	clear(r.traits)
	r.objectNext = 0
}
