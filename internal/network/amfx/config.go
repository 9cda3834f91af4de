package amfx

const (
	// CurrentVersion 是默认的 AMFX 协议版本号。
	CurrentVersion = 3

	defaultMaxObjectNestLevel     = 512
	defaultMaxCollectionNestLevel = 15

	// tamperThreshold 为可信任的数组声明长度上限，超过时改用按需增长的切片。
	tamperThreshold = 1024
	// defaultArrayCapacity 为未声明长度时的初始容量。
	defaultArrayCapacity = 10
)

// Config 为编解码器配置，字段支持经由 viper 加载。
type Config struct {
	// MaxObjectNestLevel 为所有容器（记录、数组、字典）的最大嵌套深度。
	MaxObjectNestLevel int `json:"max-object-nest-level" mapstructure:"max-object-nest-level"`
	// MaxCollectionNestLevel 为数组与字典的最大嵌套深度。
	MaxCollectionNestLevel int `json:"max-collection-nest-level" mapstructure:"max-collection-nest-level"`
	// InstantiateTypes 为 true 时按别名实例化带类型名的记录。
	InstantiateTypes bool `json:"instantiate-types" mapstructure:"instantiate-types"`
	// CreateObjectForMissingType 为 true 时，类型无法解析的记录降级为携带原类型名的 *Object。
	CreateObjectForMissingType bool `json:"create-object-for-missing-type" mapstructure:"create-object-for-missing-type"`
	// AllowXML 为 false 时拒绝输入中的 <xml> 元素。
	AllowXML bool `json:"allow-xml" mapstructure:"allow-xml"`
	// ByteArraysByReference 为 true 时字节数组登记到对象表。
	ByteArraysByReference bool `json:"bytearrays-by-reference" mapstructure:"bytearrays-by-reference"`

	LegacyCollection     bool `json:"legacy-collection" mapstructure:"legacy-collection"`
	LegacyMap            bool `json:"legacy-map" mapstructure:"legacy-map"`
	LegacyDictionary     bool `json:"legacy-dictionary" mapstructure:"legacy-dictionary"`
	LegacyBigNumbers     bool `json:"legacy-big-numbers" mapstructure:"legacy-big-numbers"`
	LegacyExternalizable bool `json:"legacy-externalizable" mapstructure:"legacy-externalizable"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MaxObjectNestLevel:     defaultMaxObjectNestLevel,
		MaxCollectionNestLevel: defaultMaxCollectionNestLevel,
		InstantiateTypes:       true,
		ByteArraysByReference:  true,
	}
}

// options 是一次编解码使用的全部显式上下文。
type options struct {
	cfg       Config
	validator Validator
	proxies   *ProxyRegistry
	aliases   *AliasRegistry
}

func defaultOptions() *options {
	return &options{
		cfg:       DefaultConfig(),
		validator: AllowAll{},
		proxies:   DefaultProxyRegistry(),
		aliases:   DefaultAliasRegistry(),
	}
}

func newOptions(opts ...Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.MaxObjectNestLevel <= 0 {
		o.cfg.MaxObjectNestLevel = defaultMaxObjectNestLevel
	}
	if o.cfg.MaxCollectionNestLevel <= 0 {
		o.cfg.MaxCollectionNestLevel = defaultMaxCollectionNestLevel
	}
	return o
}

type Option func(*options)

// WithConfig 整体替换配置。
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithValidator 设置校验钩子，nil 等价于 AllowAll。
func WithValidator(v Validator) Option {
	return func(o *options) {
		if v == nil {
			v = AllowAll{}
		}
		o.validator = v
	}
}

func WithProxyRegistry(r *ProxyRegistry) Option {
	return func(o *options) {
		if r != nil {
			o.proxies = r
		}
	}
}

func WithAliasRegistry(r *AliasRegistry) Option {
	return func(o *options) {
		if r != nil {
			o.aliases = r
		}
	}
}

func WithMaxObjectNestLevel(n int) Option {
	return func(o *options) {
		o.cfg.MaxObjectNestLevel = n
	}
}

func WithMaxCollectionNestLevel(n int) Option {
	return func(o *options) {
		o.cfg.MaxCollectionNestLevel = n
	}
}

func WithInstantiateTypes(v bool) Option {
	return func(o *options) {
		o.cfg.InstantiateTypes = v
	}
}

func WithCreateObjectForMissingType(v bool) Option {
	return func(o *options) {
		o.cfg.CreateObjectForMissingType = v
	}
}

func WithAllowXML(v bool) Option {
	return func(o *options) {
		o.cfg.AllowXML = v
	}
}

func WithByteArraysByReference(v bool) Option {
	return func(o *options) {
		o.cfg.ByteArraysByReference = v
	}
}

func WithLegacyCollection(v bool) Option {
	return func(o *options) {
		o.cfg.LegacyCollection = v
	}
}

func WithLegacyMap(v bool) Option {
	return func(o *options) {
		o.cfg.LegacyMap = v
	}
}

func WithLegacyDictionary(v bool) Option {
	return func(o *options) {
		o.cfg.LegacyDictionary = v
	}
}

func WithLegacyBigNumbers(v bool) Option {
	return func(o *options) {
		o.cfg.LegacyBigNumbers = v
	}
}

func WithLegacyExternalizable(v bool) Option {
	return func(o *options) {
		o.cfg.LegacyExternalizable = v
	}
}
