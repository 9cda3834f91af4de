package amfx

import (
	"reflect"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// ProxyRegistry 把 Go 类型映射到 PropertyProxy，查找按值进行。
type ProxyRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]PropertyProxy
}

func NewProxyRegistry() *ProxyRegistry {
	return &ProxyRegistry{byType: make(map[reflect.Type]PropertyProxy)}
}

// Register 为 sample 的动态类型注册代理，重复注册覆盖旧值。
func (r *ProxyRegistry) Register(sample any, p PropertyProxy) error {
	if sample == nil || p == nil {
		return merr.WrapErrProxyInvalid(typeName(sample), "sample and proxy must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[reflect.TypeOf(sample)] = p
	return nil
}

// Unregister 移除 sample 类型的代理。
func (r *ProxyRegistry) Unregister(sample any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byType, reflect.TypeOf(sample))
}

// Registered 返回显式注册给 v 的类型的代理。
func (r *ProxyRegistry) Registered(v any) (PropertyProxy, bool) {
	if v == nil {
		return nil, false
	}
	return r.registeredType(reflect.TypeOf(v))
}

func (r *ProxyRegistry) registeredType(t reflect.Type) (PropertyProxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byType[t]
	return p, ok
}

// Lookup 返回 v 的代理：显式注册优先，其次按值的形态选择内置代理。
func (r *ProxyRegistry) Lookup(v any) PropertyProxy {
	if v == nil {
		return DefaultProxy{}
	}
	return r.LookupType(reflect.TypeOf(v))
}

// LookupType 与 Lookup 相同，但按类型查找。
func (r *ProxyRegistry) LookupType(t reflect.Type) PropertyProxy {
	if p, ok := r.registeredType(t); ok {
		return p
	}
	if t == objectPtrType {
		return ObjectProxy{}
	}
	base := t
	if base.Kind() == reflect.Pointer {
		if p, ok := r.registeredType(base.Elem()); ok {
			return p
		}
		base = base.Elem()
	}
	switch base.Kind() {
	case reflect.Struct:
		return StructProxy{}
	case reflect.Map:
		if base.Key().Kind() == reflect.String {
			return MapProxy{}
		}
	case reflect.Slice, reflect.Array:
		return SliceProxy{}
	}
	return DefaultProxy{}
}

var objectPtrType = reflect.TypeOf((*Object)(nil))

// AliasRegistry 维护远端类型别名与 Go 类型之间的双向映射。
type AliasRegistry struct {
	mu      sync.RWMutex
	byAlias map[string]reflect.Type
	byType  map[reflect.Type]string
}

// NewAliasRegistry 创建别名注册表，ArrayCollection 总是预先注册。
func NewAliasRegistry() *AliasRegistry {
	r := &AliasRegistry{
		byAlias: make(map[string]reflect.Type),
		byType:  make(map[reflect.Type]string),
	}
	r.MustRegister(ArrayCollectionAlias, (*ArrayCollection)(nil))
	return r
}

// Register 绑定别名与 sample 的类型。
// 同一别名绑定到不同类型、或同一类型绑定不同别名时返回 ErrAliasConflict。
func (r *AliasRegistry) Register(alias string, sample any) error {
	if alias == "" || sample == nil {
		return merr.WrapErrParameterInvalidMsg("alias and sample must not be empty")
	}
	t := reflect.TypeOf(sample)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byAlias[alias]; ok {
		if existing == t {
			return nil
		}
		return merr.WrapErrAliasConflict(alias, existing, t)
	}
	if existing, ok := r.byType[t]; ok {
		return merr.WrapErrAliasConflict(alias, existing, t)
	}
	r.byAlias[alias] = t
	r.byType[t] = alias
	return nil
}

// MustRegister 与 Register 相同，冲突时 panic，用于 init 阶段。
func (r *AliasRegistry) MustRegister(alias string, sample any) {
	if err := r.Register(alias, sample); err != nil {
		panic(err)
	}
}

// Lookup 返回别名对应的 Go 类型。
func (r *AliasRegistry) Lookup(alias string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAlias[alias]
	return t, ok
}

// AliasOf 返回 Go 类型的别名，指针与其元素类型互相回退。
func (r *AliasRegistry) AliasOf(t reflect.Type) (string, bool) {
	if t == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.byType[t]; ok {
		return a, true
	}
	if t.Kind() == reflect.Pointer {
		a, ok := r.byType[t.Elem()]
		return a, ok
	}
	a, ok := r.byType[reflect.PointerTo(t)]
	return a, ok
}

// Aliases 返回已注册的别名，按字典序排列。
func (r *AliasRegistry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	aliases := lo.Keys(r.byAlias)
	sort.Strings(aliases)
	return aliases
}

var (
	defaultProxyRegistry = NewProxyRegistry()
	defaultAliasRegistry = NewAliasRegistry()
)

// DefaultProxyRegistry 返回进程级默认代理注册表。
func DefaultProxyRegistry() *ProxyRegistry {
	return defaultProxyRegistry
}

// DefaultAliasRegistry 返回进程级默认别名注册表。
func DefaultAliasRegistry() *AliasRegistry {
	return defaultAliasRegistry
}
