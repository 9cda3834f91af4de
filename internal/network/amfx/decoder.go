package amfx

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/pkg/log"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

type frameKind uint8

const (
	frameRecord frameKind = iota
	// frameArray 为按声明长度预分配的数组。
	frameArray
	// frameList 为按需增长的数组，在闭合时才得到最终切片。
	frameList
	frameECMA
	frameDictionary
)

func (k frameKind) collection() bool {
	return k != frameRecord
}

// frame 是解码栈上一个尚未闭合的容器。
type frame struct {
	kind    frameKind
	tag     tag
	ordinal int

	// 记录
	value    any
	proxy    PropertyProxy
	typeName string
	traits   traitsCursor
	supplied int
	external bool
	payload  []byte
	hasBytes bool
	// declared 为固定形状记录的可写属性名，首次写入属性时取得
	shaped   bool
	dynamic  bool
	declared map[string]struct{}

	// 数组
	array []any
	index int
	list  []any
	// fixups 在 frameList 闭合时以最终切片依次执行
	fixups []func(final any) error

	// ECMA 数组
	ecma       ECMAArray
	item       string
	inItem     bool
	itemFilled bool

	// 字典
	dict       *Dictionary
	keyPending bool
}

// pendingRef 是对尚未闭合的增长数组的引用占位。
type pendingRef struct {
	f *frame
}

type decodeMode uint8

const (
	modeValue decodeMode = iota
	modeMessage
	modeFragment
)

// Decoder 是事件驱动的 AMFX 解码器，Start/Text/End 由 XML 词法器的事件驱动。
// 三张引用表的作用域为一个完整文档，Reset 之后才可复用。
// Decoder 不是并发安全的。
type Decoder struct {
	opts *options

	objects *ObjectTable
	strings *StringTable
	traits  *TraitsTable
	coerced *coercion

	stack       []*frame
	collections int
	// 嵌套解码 Externalizable 负载时继承的外层深度
	baseObjects     int
	baseCollections int

	leaf      tag
	leafOpen  bool
	immediate bool
	text      bytes.Buffer

	inTraits   bool
	collecting *Traits

	mode         decodeMode
	rootStarted  bool
	result       any
	hasResult    bool
	msg          *ActionMessage
	header       *MessageHeader
	body         *MessageBody
	slotFilled   bool
	envelopeOpen bool
	envelopeDone bool
	fragment     []any
}

func NewDecoder(opts ...Option) *Decoder {
	return newDecoder(newOptions(opts...))
}

func newDecoder(o *options) *Decoder {
	return &Decoder{
		opts:    o,
		objects: NewObjectTable(),
		strings: NewStringTable(),
		traits:  NewTraitsTable(),
		coerced: new(coercion),
		stack:   make([]*frame, 0, 16),
	}
}

// Reset 清空引用表与全部解码状态，保留配置。
func (d *Decoder) Reset() {
	d.objects.Reset()
	d.strings.Reset()
	d.traits.Reset()
	d.coerced.reset()
	clear(d.stack)
	d.stack = d.stack[:0]
	d.collections = 0
	d.baseObjects, d.baseCollections = 0, 0
	d.leaf, d.leafOpen, d.immediate = tagUnknown, false, false
	d.text.Reset()
	d.inTraits, d.collecting = false, nil
	d.mode = modeValue
	d.rootStarted = false
	d.result, d.hasResult = nil, false
	d.msg, d.header, d.body = nil, nil, nil
	d.slotFilled = false
	d.envelopeOpen, d.envelopeDone = false, false
	d.fragment = nil
}

// Value 返回单值模式下已解码的根值。
func (d *Decoder) Value() (any, bool) {
	return d.result, d.hasResult
}

// Decode 从 src 读取一个独立的 AMFX 值文档。
func (d *Decoder) Decode(src TokenSource) (any, error) {
	d.mode = modeValue
	if err := d.run(src); err != nil {
		return nil, err
	}
	if !d.hasResult {
		return nil, merr.WrapErrUnexpectedElement("EOF", "document contains no value")
	}
	return d.result, nil
}

// ReadMessage 从 src 读取一个 <amfx> 消息信封。
func (d *Decoder) ReadMessage(src TokenSource) (*ActionMessage, error) {
	d.mode = modeMessage
	d.msg = NewActionMessage()
	if err := d.run(src); err != nil {
		return nil, err
	}
	if !d.envelopeDone {
		return nil, merr.WrapErrUnexpectedElement("EOF", "missing <amfx> envelope")
	}
	return d.msg, nil
}

func (d *Decoder) run(src TokenSource) error {
	for {
		tok, err := src.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if merr.IsCodecError(err) {
				return err
			}
			return merr.WrapErrMalformedLiteral("xml", err.Error())
		}
		switch t := tok.(type) {
		case xml.StartElement:
			err = d.Start(t.Name.Local, t.Attr)
		case xml.EndElement:
			err = d.End(t.Name.Local)
		case xml.CharData:
			d.Text(t)
		case xml.Directive:
			err = merr.WrapErrExternalEntityRejected(string(t))
		}
		if err != nil {
			if tk, ok := src.(*Tokenizer); ok {
				return errors.Wrapf(err, "at offset %d", tk.InputOffset())
			}
			return err
		}
	}
	return d.checkComplete()
}

func (d *Decoder) checkComplete() error {
	switch {
	case d.leafOpen:
		return merr.WrapErrUnexpectedElement(d.leaf.String(), "document ended inside element")
	case d.inTraits:
		return merr.WrapErrUnexpectedElement(tagTraits.String(), "document ended inside element")
	case len(d.stack) > 0:
		return merr.WrapErrUnexpectedElement(d.top().tag.String(), "document ended inside element")
	case d.header != nil:
		return merr.WrapErrUnexpectedElement(tagHeader.String(), "document ended inside element")
	case d.body != nil:
		return merr.WrapErrUnexpectedElement(tagBody.String(), "document ended inside element")
	case d.envelopeOpen && !d.envelopeDone:
		return merr.WrapErrUnexpectedElement(tagAMFX.String(), "document ended inside element")
	}
	return nil
}

func (d *Decoder) top() *frame {
	if len(d.stack) == 0 {
		return nil
	}
	return d.stack[len(d.stack)-1]
}

func attr(attrs []xml.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Start 处理开始标签。
func (d *Decoder) Start(name string, attrs []xml.Attr) error {
	t := lookupTag(name)
	if t == tagUnknown {
		return merr.WrapErrUnknownElement(name)
	}
	if d.leafOpen {
		return merr.WrapErrUnexpectedElement(name, fmt.Sprintf("nested inside <%s>", d.leaf))
	}
	if d.inTraits && t != tagString {
		return merr.WrapErrUnexpectedElement(name, "only <string> is allowed inside <traits>")
	}

	switch t {
	case tagAMFX:
		return d.startEnvelope(attrs)
	case tagHeader:
		return d.startHeader(attrs)
	case tagBody:
		return d.startBody(attrs)
	case tagObject:
		return d.startObject(attrs)
	case tagTraits:
		return d.startTraits(attrs)
	case tagArray:
		return d.startArray(attrs)
	case tagDictionary:
		return d.startDictionary(attrs)
	case tagItem:
		return d.startItem(attrs)
	}

	// 标量
	if !d.inTraits {
		if err := d.beginValue(name); err != nil {
			return err
		}
	}
	d.leaf, d.leafOpen, d.immediate = t, true, false
	d.text.Reset()
	switch t {
	case tagString:
		if s, ok := attr(attrs, "id"); ok {
			d.immediate = true
			return d.stringRef(s)
		}
	case tagRef:
		d.immediate = true
		return d.objectRef(attrs)
	case tagTrue, tagFalse:
		d.immediate = true
		if err := d.validateCreation(ClassBoolean); err != nil {
			return err
		}
		return d.place(t == tagTrue)
	case tagNull:
		d.immediate = true
		return d.place(nil)
	case tagUndefined:
		d.immediate = true
		return d.place(Undefined)
	}
	return nil
}

// Text 处理字符数据，标量之外的空白被忽略。
func (d *Decoder) Text(chars []byte) {
	if d.leafOpen && !d.immediate {
		d.text.Write(chars)
	}
}

// End 处理结束标签。
func (d *Decoder) End(name string) error {
	t := lookupTag(name)
	if t == tagUnknown {
		return merr.WrapErrUnknownElement(name)
	}
	if d.leafOpen {
		if t != d.leaf {
			return merr.WrapErrUnexpectedElement(name, fmt.Sprintf("closes <%s>", d.leaf))
		}
		d.leafOpen = false
		if d.immediate {
			return nil
		}
		text := d.text.String()
		d.text.Reset()
		return d.endLeaf(t, text)
	}

	switch t {
	case tagTraits:
		if !d.inTraits {
			return merr.WrapErrUnexpectedElement(name, "no open <traits>")
		}
		if d.collecting != nil && d.collecting.shared() {
			d.traits.Add(d.collecting)
		}
		d.inTraits, d.collecting = false, nil
		return nil
	case tagItem:
		f := d.top()
		if f == nil || f.kind != frameECMA || !f.inItem {
			return merr.WrapErrUnexpectedElement(name, "no open <item>")
		}
		if !f.itemFilled {
			return merr.WrapErrUnexpectedElement(name, fmt.Sprintf("item %q has no value", f.item))
		}
		f.inItem = false
		return nil
	case tagObject, tagArray, tagDictionary:
		return d.endContainer(t)
	case tagHeader:
		if d.header == nil || len(d.stack) > 0 {
			return merr.WrapErrUnexpectedElement(name, "no open <header>")
		}
		d.msg.Headers = append(d.msg.Headers, d.header)
		d.header, d.slotFilled = nil, false
		return nil
	case tagBody:
		if d.body == nil || len(d.stack) > 0 {
			return merr.WrapErrUnexpectedElement(name, "no open <body>")
		}
		d.msg.Bodies = append(d.msg.Bodies, d.body)
		d.body, d.slotFilled = nil, false
		return nil
	case tagAMFX:
		if !d.envelopeOpen || d.header != nil || d.body != nil || len(d.stack) > 0 {
			return merr.WrapErrUnexpectedElement(name, "no open <amfx>")
		}
		d.envelopeDone = true
		return nil
	}
	return merr.WrapErrUnexpectedElement(name, "unbalanced end element")
}

// beginValue 检查当前位置是否允许出现一个新值。
func (d *Decoder) beginValue(name string) error {
	if len(d.stack) > 0 {
		return nil
	}
	switch d.mode {
	case modeValue:
		if d.rootStarted {
			return merr.WrapErrUnexpectedElement(name, "document has more than one root value")
		}
		d.rootStarted = true
	case modeMessage:
		if d.header == nil && d.body == nil {
			return merr.WrapErrUnexpectedElement(name, "value outside <header> or <body>")
		}
		if d.slotFilled {
			return merr.WrapErrUnexpectedElement(name, "more than one value in message part")
		}
		d.slotFilled = true
	case modeFragment:
		if !d.envelopeOpen || d.envelopeDone {
			return merr.WrapErrUnexpectedElement(name, "value outside payload")
		}
	}
	return nil
}

func (d *Decoder) startEnvelope(attrs []xml.Attr) error {
	if d.mode == modeValue || d.envelopeOpen || len(d.stack) > 0 {
		return merr.WrapErrUnexpectedElement(tagAMFX.String(), "unexpected envelope")
	}
	d.envelopeOpen = true
	if d.mode != modeMessage {
		return nil
	}
	if s, ok := attr(attrs, "ver"); ok {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return merr.WrapErrMalformedLiteral("amfx", s, "ver must be an integer")
		}
		d.msg.Version = v
	}
	return nil
}

func (d *Decoder) startHeader(attrs []xml.Attr) error {
	if d.mode != modeMessage || !d.envelopeOpen || d.envelopeDone || d.header != nil || d.body != nil {
		return merr.WrapErrUnexpectedElement(tagHeader.String(), "header must be a direct child of <amfx>")
	}
	name, _ := attr(attrs, "name")
	mu, _ := attr(attrs, "mustUnderstand")
	d.header = &MessageHeader{
		Name:           name,
		MustUnderstand: strings.EqualFold(strings.TrimSpace(mu), "true"),
	}
	d.slotFilled = false
	return nil
}

func (d *Decoder) startBody(attrs []xml.Attr) error {
	if d.mode != modeMessage || !d.envelopeOpen || d.envelopeDone || d.header != nil || d.body != nil {
		return merr.WrapErrUnexpectedElement(tagBody.String(), "body must be a direct child of <amfx>")
	}
	target, _ := attr(attrs, "targetURI")
	response, _ := attr(attrs, "responseURI")
	d.body = &MessageBody{TargetURI: target, ResponseURI: response}
	d.slotFilled = false
	return nil
}

// enter 检查嵌套深度并压栈。
func (d *Decoder) enter(f *frame) error {
	depth := d.baseObjects + len(d.stack) + 1
	if limit := d.opts.cfg.MaxObjectNestLevel; depth > limit {
		return merr.WrapErrNestingLimitExceeded("object", depth, limit)
	}
	if f.kind.collection() {
		depth = d.baseCollections + d.collections + 1
		if limit := d.opts.cfg.MaxCollectionNestLevel; depth > limit {
			return merr.WrapErrNestingLimitExceeded("collection", depth, limit)
		}
		d.collections++
	}
	d.stack = append(d.stack, f)
	return nil
}

func (d *Decoder) startObject(attrs []xml.Attr) error {
	if err := d.beginValue(tagObject.String()); err != nil {
		return err
	}
	typeName, _ := attr(attrs, "type")
	typeName = strings.TrimSpace(typeName)
	value, proxy, err := d.resolveRecord(typeName)
	if err != nil {
		return err
	}
	f := &frame{kind: frameRecord, tag: tagObject, value: value, proxy: proxy, typeName: typeName}
	if err := d.enter(f); err != nil {
		return err
	}
	f.ordinal = d.objects.Add(value)
	return nil
}

// resolveRecord 为 <object type> 创建承载实例。
func (d *Decoder) resolveRecord(typeName string) (any, PropertyProxy, error) {
	if typeName == "" {
		if err := d.validateCreation(ClassObject); err != nil {
			return nil, nil, err
		}
		return NewObject(""), ObjectProxy{}, nil
	}
	if err := d.validateCreation(typeName); err != nil {
		return nil, nil, err
	}
	// ">" 开头的类型名只作为标记，不参与实例化
	if strings.HasPrefix(typeName, ">") ||
		!(d.opts.cfg.InstantiateTypes || strings.HasPrefix(typeName, "flex.")) {
		return NewObject(typeName), ObjectProxy{}, nil
	}
	t, ok := d.opts.aliases.Lookup(typeName)
	if !ok {
		return d.missingType(typeName, "alias not registered")
	}
	var inst any
	err := guard(func(reason string) error {
		return merr.WrapErrTypeResolution(typeName, reason)
	}, func() error {
		var cerr error
		inst, cerr = d.opts.proxies.LookupType(t).CreateInstance(t)
		return cerr
	})
	if err == nil && inst == nil {
		err = merr.WrapErrTypeResolution(typeName, "proxy created a nil instance")
	}
	if err != nil {
		return d.missingType(typeName, err.Error())
	}
	return inst, d.opts.proxies.Lookup(inst), nil
}

func (d *Decoder) missingType(typeName, reason string) (any, PropertyProxy, error) {
	if !d.opts.cfg.CreateObjectForMissingType {
		return nil, nil, merr.WrapErrTypeResolution(typeName, reason)
	}
	log.RatedWarn(10, "amfx type not resolved, decoding as dynamic object",
		log.FieldTag(tagObject.String()), log.FieldOrdinal(d.objects.Len()),
		zap.String("type", typeName), zap.String("reason", reason))
	return NewObject(typeName), ObjectProxy{}, nil
}

func (d *Decoder) startTraits(attrs []xml.Attr) error {
	f := d.top()
	if f == nil || f.kind != frameRecord {
		return merr.WrapErrUnexpectedElement(tagTraits.String(), "traits outside <object>")
	}
	if f.traits.bound() {
		return merr.WrapErrUnexpectedElement(tagTraits.String(), "duplicate traits")
	}
	var tr *Traits
	if s, ok := attr(attrs, "id"); ok {
		id, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return merr.WrapErrMalformedLiteral("traits", s, "id must be an integer")
		}
		if tr, err = d.traits.Get(id); err != nil {
			return err
		}
		d.collecting = nil
	} else {
		ext, _ := attr(attrs, "externalizable")
		tr = &Traits{Alias: f.typeName, Externalizable: strings.EqualFold(strings.TrimSpace(ext), "true")}
		// 名字收齐后在 </traits> 处登记
		d.collecting = tr
	}
	if tr.Externalizable {
		if _, ok := f.value.(Externalizable); !ok {
			return merr.WrapErrTypeResolution(f.typeName, "must implement Externalizable to receive externalizable instances")
		}
		f.external = true
	}
	f.traits = traitsCursor{traits: tr}
	d.inTraits = true
	return nil
}

func (d *Decoder) startArray(attrs []xml.Attr) error {
	if err := d.beginValue(tagArray.String()); err != nil {
		return err
	}
	length, declared, err := parseLength(tagArray, attrs)
	if err != nil {
		return err
	}
	ecma, _ := attr(attrs, "ecma")
	if strings.EqualFold(strings.TrimSpace(ecma), "true") {
		if err := d.validateCreation(ClassECMAArray); err != nil {
			return err
		}
		f := &frame{kind: frameECMA, tag: tagArray, ecma: make(ECMAArray)}
		if err := d.enter(f); err != nil {
			return err
		}
		f.ordinal = d.objects.Add(f.ecma)
		return nil
	}
	if err := d.validateCreation(ClassArray); err != nil {
		return err
	}
	// 声明长度不可信时不按其预分配
	if !declared || length > tamperThreshold || d.opts.cfg.LegacyCollection {
		f := &frame{kind: frameList, tag: tagArray, list: make([]any, 0, min(length, tamperThreshold))}
		if err := d.enter(f); err != nil {
			return err
		}
		f.ordinal = d.objects.Add(&pendingRef{f: f})
		return nil
	}
	f := &frame{kind: frameArray, tag: tagArray, array: make([]any, length)}
	if err := d.enter(f); err != nil {
		return err
	}
	f.ordinal = d.objects.Add(f.array)
	return nil
}

func parseLength(t tag, attrs []xml.Attr) (int, bool, error) {
	s, ok := attr(attrs, "length")
	if !ok {
		return defaultArrayCapacity, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false, merr.WrapErrMalformedLiteral(t.String(), s, "length must be a non-negative integer")
	}
	return n, true, nil
}

func (d *Decoder) startDictionary(attrs []xml.Attr) error {
	if err := d.beginValue(tagDictionary.String()); err != nil {
		return err
	}
	length, _, err := parseLength(tagDictionary, attrs)
	if err != nil {
		return err
	}
	if err := d.validateCreation(ClassDictionary); err != nil {
		return err
	}
	dict := &Dictionary{entries: make([]DictionaryEntry, 0, min(length, tamperThreshold))}
	f := &frame{kind: frameDictionary, tag: tagDictionary, dict: dict}
	if err := d.enter(f); err != nil {
		return err
	}
	f.ordinal = d.objects.Add(dict)
	return nil
}

func (d *Decoder) startItem(attrs []xml.Attr) error {
	f := d.top()
	if f == nil || f.kind != frameECMA {
		return merr.WrapErrUnexpectedElement(tagItem.String(), "item outside ECMA array")
	}
	if f.inItem {
		return merr.WrapErrUnexpectedElement(tagItem.String(), "nested item")
	}
	name, ok := attr(attrs, "name")
	if !ok {
		return merr.WrapErrUnexpectedElement(tagItem.String(), "missing name attribute")
	}
	name = strings.TrimSpace(name)
	if !validName(name) {
		return merr.WrapErrMalformedLiteral(tagItem.String(), name, "invalid item name")
	}
	f.inItem, f.item, f.itemFilled = true, name, false
	return nil
}

func (d *Decoder) stringRef(s string) error {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return merr.WrapErrMalformedLiteral(tagString.String(), s, "id must be an integer")
	}
	str, err := d.strings.Get(id)
	if err != nil {
		return err
	}
	if d.inTraits {
		return d.addTraitName(str)
	}
	if err := d.validateCreation(ClassString); err != nil {
		return err
	}
	return d.place(str)
}

func (d *Decoder) objectRef(attrs []xml.Attr) error {
	s, ok := attr(attrs, "id")
	if !ok {
		return merr.WrapErrUnexpectedElement(tagRef.String(), "missing id attribute")
	}
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return merr.WrapErrMalformedLiteral(tagRef.String(), s, "id must be an integer")
	}
	v, err := d.objects.Get(id)
	if err != nil {
		return err
	}
	return d.place(v)
}

func (d *Decoder) addTraitName(name string) error {
	if d.collecting == nil {
		return merr.WrapErrUnexpectedElement(tagString.String(), "traits by reference carry no names")
	}
	if !validName(name) {
		return merr.WrapErrMalformedLiteral(tagTraits.String(), name, "invalid trait name")
	}
	d.collecting.Names = append(d.collecting.Names, name)
	return nil
}

// unescapeCloseCDATA 还原被对端二次转义的 "]]>"。
func unescapeCloseCDATA(s string) string {
	if len(s) > 5 && strings.Contains(s, "]]&gt;") {
		return strings.ReplaceAll(s, "]]&gt;", "]]>")
	}
	return s
}

func (d *Decoder) endLeaf(t tag, text string) error {
	switch t {
	case tagString:
		if d.inTraits {
			d.strings.Add(text)
			return d.addTraitName(text)
		}
		s := unescapeCloseCDATA(text)
		d.strings.Add(s)
		if err := d.validateCreation(ClassString); err != nil {
			return err
		}
		return d.place(s)

	case tagInt:
		s := strings.TrimSpace(text)
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return merr.WrapErrMalformedLiteral(t.String(), text)
		}
		if err := d.validateCreation(ClassInt); err != nil {
			return err
		}
		return d.place(int32(n))

	case tagDouble:
		f, err := parseDouble(strings.TrimSpace(text))
		if err != nil {
			return merr.WrapErrMalformedLiteral(t.String(), text)
		}
		if err := d.validateCreation(ClassNumber); err != nil {
			return err
		}
		return d.place(f)

	case tagDate:
		ms, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return merr.WrapErrMalformedLiteral(t.String(), text)
		}
		if err := d.validateCreation(ClassDate); err != nil {
			return err
		}
		date := time.UnixMilli(ms).UTC()
		if err := d.place(date); err != nil {
			return err
		}
		d.objects.Add(date)
		return nil

	case tagByteArray:
		b, err := hex.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return merr.WrapErrMalformedLiteral(t.String(), text)
		}
		if err := d.validateCreation(ClassByteArray); err != nil {
			return err
		}
		if d.opts.cfg.ByteArraysByReference {
			d.objects.Add(b)
		}
		return d.place(b)

	case tagXML:
		if !d.opts.cfg.AllowXML {
			return merr.WrapErrValidationRejected(ClassXML, errors.New("xml documents are disabled"))
		}
		if err := d.validateCreation(ClassXML); err != nil {
			return err
		}
		return d.place(XMLDocument(unescapeCloseCDATA(text)))
	}
	return merr.WrapErrUnexpectedElement(t.String(), "not a scalar")
}

// parseDouble 解析 <double>，接受 NaN、Infinity、-Infinity，超出范围的值取 ±Inf。
func parseDouble(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, err
	}
	return f, nil
}

func (d *Decoder) endContainer(t tag) error {
	f := d.top()
	if f == nil || f.tag != t {
		return merr.WrapErrUnexpectedElement(t.String(), "no matching open element")
	}
	if f.kind == frameECMA && f.inItem {
		return merr.WrapErrUnexpectedElement(t.String(), fmt.Sprintf("item %q not closed", f.item))
	}
	if f.kind == frameDictionary && f.keyPending {
		return merr.WrapErrUnexpectedElement(t.String(), "dictionary key without value")
	}
	d.stack[len(d.stack)-1] = nil
	d.stack = d.stack[:len(d.stack)-1]
	if f.kind.collection() {
		d.collections--
	}

	var v any
	switch f.kind {
	case frameRecord:
		final, err := d.finishRecord(f)
		if err != nil {
			return err
		}
		v = final
	case frameArray:
		v = f.array
	case frameList:
		final := slices.Clip(f.list)
		if final == nil {
			final = []any{}
		}
		if err := d.objects.Patch(f.ordinal, final); err != nil {
			return err
		}
		for _, fix := range f.fixups {
			if err := fix(final); err != nil {
				return err
			}
		}
		f.fixups = nil
		v = final
	case frameECMA:
		v = f.ecma
	case frameDictionary:
		v = f.dict
	}
	return d.place(v)
}

func (d *Decoder) finishRecord(f *frame) (any, error) {
	if f.external {
		if !f.hasBytes {
			return nil, merr.WrapErrExternalizable(f.typeName, errors.New("missing payload"))
		}
		values, err := d.decodePayload(f.payload)
		if err != nil {
			return nil, err
		}
		ext := f.value.(Externalizable)
		in := &ObjectInput{typeName: f.typeName, values: values}
		err = guard(func(reason string) error {
			return merr.WrapErrExternalizable(f.typeName, errors.New(reason))
		}, func() error {
			if rerr := ext.ReadExternal(in); rerr != nil {
				return merr.WrapErrExternalizable(f.typeName, rerr)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else if f.traits.next < f.traits.expected() {
		return nil, merr.WrapErrTraitsExhausted(f.typeName, f.traits.expected(), f.traits.next)
	}

	var final any
	err := guard(func(reason string) error {
		return merr.WrapErrPropertyAccess(f.typeName, "", reason)
	}, func() error {
		final = f.proxy.InstanceComplete(f.value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, merr.WrapErrPropertyAccess(f.typeName, "", "instance completion returned nil")
	}
	if !sameValue(final, f.value) {
		if err := d.objects.Patch(f.ordinal, final); err != nil {
			return nil, err
		}
	}
	return final, nil
}

// decodePayload 以独立的引用表解码 Externalizable 负载中的值序列。
func (d *Decoder) decodePayload(payload []byte) ([]any, error) {
	nd := newDecoder(d.opts)
	nd.mode = modeFragment
	nd.baseObjects = d.baseObjects + len(d.stack) + 1
	nd.baseCollections = d.baseCollections + d.collections
	src := NewTokenizer(io.MultiReader(
		strings.NewReader("<amfx>"),
		bytes.NewReader(payload),
		strings.NewReader("</amfx>"),
	))
	if err := nd.run(src); err != nil {
		return nil, err
	}
	return nd.fragment, nil
}

// place 把一个已完成的值交给栈顶容器，栈为空时交给文档本身。
func (d *Decoder) place(v any) error {
	f := d.top()
	if f == nil {
		return d.placeRoot(v)
	}
	pending, isPending := v.(*pendingRef)

	switch f.kind {
	case frameRecord:
		if f.external {
			b, ok := v.([]byte)
			if !ok || f.hasBytes {
				return merr.WrapErrExternalizable(f.typeName, errors.New("payload must be a single byte array"))
			}
			f.payload, f.hasBytes = b, true
			return nil
		}
		f.supplied++
		name, ok := f.traits.advance()
		if !ok {
			return merr.WrapErrTraitsExhausted(f.typeName, f.traits.expected(), f.supplied)
		}
		if isPending {
			pending.f.fixups = append(pending.f.fixups, func(final any) error {
				return d.setProperty(f, name, final)
			})
			return nil
		}
		return d.setProperty(f, name, v)

	case frameArray:
		if f.index >= len(f.array) {
			return merr.WrapErrUnexpectedElement(tagArray.String(),
				fmt.Sprintf("more elements than declared length %d", len(f.array)))
		}
		arr, i := f.array, f.index
		f.index++
		assign := func(final any) error {
			if err := d.validateAssignment(arr, i, final); err != nil {
				return err
			}
			arr[i] = final
			return nil
		}
		if isPending {
			pending.f.fixups = append(pending.f.fixups, assign)
			return nil
		}
		return assign(v)

	case frameList:
		i := len(f.list)
		f.list = append(f.list, nil)
		assign := func(final any) error {
			if err := d.validateAssignment(f.list, i, final); err != nil {
				return err
			}
			f.list[i] = final
			return nil
		}
		if isPending {
			pending.f.fixups = append(pending.f.fixups, assign)
			return nil
		}
		return assign(v)

	case frameECMA:
		var key string
		if f.inItem {
			if f.itemFilled {
				return merr.WrapErrUnexpectedElement(tagItem.String(), fmt.Sprintf("item %q has more than one value", f.item))
			}
			key, f.itemFilled = f.item, true
		} else {
			key = strconv.Itoa(f.index)
			f.index++
		}
		m := f.ecma
		assign := func(final any) error {
			if err := d.validateAssignment(m, key, final); err != nil {
				return err
			}
			m[key] = final
			return nil
		}
		if isPending {
			pending.f.fixups = append(pending.f.fixups, assign)
			return nil
		}
		return assign(v)

	case frameDictionary:
		dict := f.dict
		idx := len(dict.entries)
		if !f.keyPending {
			dict.entries = append(dict.entries, DictionaryEntry{Key: v})
			f.keyPending = true
			if isPending {
				dict.entries[idx].Key = nil
				pending.f.fixups = append(pending.f.fixups, func(final any) error {
					dict.entries[idx].Key = final
					return nil
				})
			}
			return nil
		}
		f.keyPending = false
		idx--
		assign := func(final any) error {
			if err := d.validateAssignment(dict, dict.entries[idx].Key, final); err != nil {
				return err
			}
			dict.entries[idx].Value = final
			return nil
		}
		if isPending {
			pending.f.fixups = append(pending.f.fixups, assign)
			return nil
		}
		return assign(v)
	}
	return nil
}

func (d *Decoder) placeRoot(v any) error {
	switch d.mode {
	case modeValue:
		d.result, d.hasResult = v, true
	case modeMessage:
		switch {
		case d.header != nil:
			d.header.Data = v
		case d.body != nil:
			d.body.Data = v
		default:
			return merr.WrapErrUnexpectedElement("value", "value outside <header> or <body>")
		}
	case modeFragment:
		d.fragment = append(d.fragment, v)
	}
	return nil
}

func (d *Decoder) setProperty(f *frame, name string, v any) error {
	ok, err := d.accepts(f, name)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("amfx property not declared by record, dropped",
			log.FieldTag(tagObject.String()), log.FieldOrdinal(f.ordinal),
			zap.String("type", f.typeName), zap.String("property", name))
		return nil
	}
	if err := d.validateAssignment(f.value, name, v); err != nil {
		return err
	}
	return guard(func(reason string) error {
		return merr.WrapErrPropertyAccess(f.typeName, name, reason)
	}, func() error {
		// 内置代理共享本次解码的转换缓存，同一源容器在各字段中保持同一身份
		switch p := f.proxy.(type) {
		case StructProxy:
			return p.setValue(d.coerced, f.value, name, v)
		case MapProxy:
			return p.setValue(d.coerced, f.value, name, v)
		case SliceProxy:
			return p.setValue(d.coerced, f.value, name, v)
		}
		return f.proxy.SetValue(f.value, name, v)
	})
}

// accepts 报告记录是否接收名为 name 的属性。
// 动态记录接收全部属性，固定形状的记录只接收代理声明过的属性名。
func (d *Decoder) accepts(f *frame, name string) (bool, error) {
	if !f.shaped {
		err := guard(func(reason string) error {
			return merr.WrapErrPropertyAccess(f.typeName, name, reason)
		}, func() error {
			f.dynamic = f.proxy.IsDynamic(f.value)
			if !f.dynamic {
				names := f.proxy.PropertyNames(f.value)
				f.declared = make(map[string]struct{}, len(names))
				for _, n := range names {
					f.declared[n] = struct{}{}
				}
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		f.shaped = true
	}
	if f.dynamic {
		return true, nil
	}
	_, ok := f.declared[name]
	return ok, nil
}

// position 返回出错时最内层容器的标签与序号，供拒绝日志使用。
func (d *Decoder) position() []zap.Field {
	if d.leafOpen {
		fields := []zap.Field{log.FieldTag(d.leaf.String())}
		if f := d.top(); f != nil {
			fields = append(fields, log.FieldOrdinal(f.ordinal))
		}
		return fields
	}
	if f := d.top(); f != nil {
		return []zap.Field{log.FieldTag(f.tag.String()), log.FieldOrdinal(f.ordinal)}
	}
	return nil
}

func (d *Decoder) validateCreation(className string) error {
	return guard(func(reason string) error {
		return merr.WrapErrValidationRejected(className, errors.New(reason))
	}, func() error {
		if err := d.opts.validator.ValidateCreation(className); err != nil {
			return merr.WrapErrValidationRejected(className, err)
		}
		return nil
	})
}

func (d *Decoder) validateAssignment(container, key, value any) error {
	subject := fmt.Sprintf("%s[%v]", typeName(container), key)
	return guard(func(reason string) error {
		return merr.WrapErrValidationRejected(subject, errors.New(reason))
	}, func() error {
		if err := d.opts.validator.ValidateAssignment(container, key, value); err != nil {
			return merr.WrapErrValidationRejected(subject, err)
		}
		return nil
	})
}

// guard 在调用宿主代码（代理、校验钩子、Externalizable）时把 panic 转换为错误。
func guard(wrap func(reason string) error, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wrap(fmt.Sprint(r))
		}
	}()
	return fn()
}

// sameValue 判断两个值是否为同一实例，引用类型比较底层指针。
func sameValue(a, b any) (same bool) {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !ra.IsValid() || !rb.IsValid() {
		return ra.IsValid() == rb.IsValid()
	}
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
	}
	if !ra.Type().Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
