package amfx

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/lk2023060901/zeus-amfx/pkg/util/typeutil"
)

// Validator 是实例化与赋值前调用的策略钩子。
// 实现必须可被多个消息处理协程并发调用。
type Validator interface {
	// ValidateCreation 在按类名创建实例前调用，返回非 nil 表示拒绝。
	ValidateCreation(className string) error
	// ValidateAssignment 在把 value 写入 container 的 key 位置前调用。
	// key 为属性名、数组下标（int）或字典键。
	ValidateAssignment(container any, key any, value any) error
}

// AllowAll 放行一切，未配置校验钩子时使用。
type AllowAll struct{}

func (AllowAll) ValidateCreation(string) error { return nil }

func (AllowAll) ValidateAssignment(any, any, any) error { return nil }

// CreationValidatorFunc 只校验实例化，赋值一律放行。
type CreationValidatorFunc func(className string) error

func (f CreationValidatorFunc) ValidateCreation(className string) error { return f(className) }

func (CreationValidatorFunc) ValidateAssignment(any, any, any) error { return nil }

var errTypeDenied = errors.New("type denied by policy")

// TypeListValidator 基于允许/拒绝列表校验类名，以 "*" 结尾的条目按前缀匹配。
// 拒绝列表优先；允许列表为空时放行所有未被拒绝的类型；内置类名只受拒绝列表约束。
type TypeListValidator struct {
	allow         typeutil.Set[string]
	allowPrefixes []string
	deny          typeutil.Set[string]
	denyPrefixes  []string
}

func NewTypeListValidator(allow, deny []string) *TypeListValidator {
	v := &TypeListValidator{}
	v.allow, v.allowPrefixes = splitPatterns(allow)
	v.deny, v.denyPrefixes = splitPatterns(deny)
	return v
}

func splitPatterns(patterns []string) (typeutil.Set[string], []string) {
	exact := typeutil.NewSet[string]()
	prefixes, names := lo.FilterReject(lo.Map(patterns, func(p string, _ int) string {
		return strings.TrimSpace(p)
	}), func(p string, _ int) bool {
		return strings.HasSuffix(p, "*")
	})
	exact.Insert(lo.Compact(names)...)
	return exact, lo.Map(prefixes, func(p string, _ int) string {
		return strings.TrimSuffix(p, "*")
	})
}

func matches(name string, exact typeutil.Set[string], prefixes []string) bool {
	if exact.Contain(name) {
		return true
	}
	return lo.ContainsBy(prefixes, func(p string) bool {
		return strings.HasPrefix(name, p)
	})
}

var builtinClasses = typeutil.NewSet(
	ClassObject, ClassArray, ClassECMAArray, ClassDictionary, ClassString, ClassInt,
	ClassNumber, ClassBoolean, ClassDate, ClassByteArray, ClassXML,
)

func (v *TypeListValidator) ValidateCreation(className string) error {
	if matches(className, v.deny, v.denyPrefixes) {
		return errors.Wrapf(errTypeDenied, "class %q", className)
	}
	if builtinClasses.Contain(className) {
		return nil
	}
	if v.allow.Len() == 0 && len(v.allowPrefixes) == 0 {
		return nil
	}
	if !matches(className, v.allow, v.allowPrefixes) {
		return errors.Wrapf(errTypeDenied, "class %q not in allow list", className)
	}
	return nil
}

// ValidateAssignment 拒绝写入类型名被拒绝的 *Object。
func (v *TypeListValidator) ValidateAssignment(container any, key any, value any) error {
	obj, ok := value.(*Object)
	if !ok || obj.Type == "" {
		return nil
	}
	if matches(obj.Type, v.deny, v.denyPrefixes) {
		return errors.Wrapf(errTypeDenied, "assign %q at %v", obj.Type, key)
	}
	return nil
}
