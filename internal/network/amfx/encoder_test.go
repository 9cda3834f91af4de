package amfx

import (
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

type sample struct {
	Name   string         `amf:"name"`
	Count  int            `amf:"count"`
	Ratio  float64        `amf:"ratio"`
	Tags   []string       `amf:"tags"`
	Attrs  map[string]int `amf:"attrs"`
	When   time.Time      `amf:"when"`
	Blob   []byte         `amf:"blob"`
	Secret string         `amf:"-"`
	Child  *sample        `amf:"child"`
}

type ledger struct {
	Total *big.Int `amf:"total"`
	Rate  *big.Rat `amf:"rate"`
	Big   int64    `amf:"big"`
}

type color int

func (c color) MarshalText() ([]byte, error) {
	return []byte([]string{"red", "green"}[c]), nil
}

type secret struct {
	Key string
}

type redactProxy struct {
	StructProxy
}

func (redactProxy) InstanceToSerialize(any) any {
	return NewObject("Redacted")
}

type EncoderSuite struct {
	suite.Suite
}

func (s *EncoderSuite) encode(v any, opts ...Option) string {
	out, err := Encode(v, opts...)
	s.Require().NoError(err)
	return string(out)
}

func (s *EncoderSuite) TestScalars() {
	s.Equal(`<null/>`, s.encode(nil))
	s.Equal(`<null/>`, s.encode((*sample)(nil)))
	s.Equal(`<undefined/>`, s.encode(Undefined))
	s.Equal(`<true/>`, s.encode(true))
	s.Equal(`<string/>`, s.encode(""))
	s.Equal(`<string>a&lt;b&amp;c</string>`, s.encode("a<b&c"))
	s.Equal(`<string>rune</string>`, s.encode([]rune("rune")))
	s.Equal(`<double>1.5</double>`, s.encode(1.5))
	s.Equal(`<double>NaN</double>`, s.encode(math.NaN()))
	s.Equal(`<double>-Infinity</double>`, s.encode(math.Inf(-1)))
	s.Equal(`<date>1000</date>`, s.encode(time.UnixMilli(1000)))
	s.Equal(`<bytearray>AB01</bytearray>`, s.encode([]byte{0xab, 0x01}))
	s.Equal(`<string>red</string>`, s.encode(color(0)))
	s.Equal(`<xml>&lt;a/&gt;</xml>`, s.encode(XMLDocument("<a/>")))
}

func (s *EncoderSuite) TestIntegerRanges() {
	s.Equal(`<int>5</int>`, s.encode(int32(5)))
	s.Equal(`<int>268435455</int>`, s.encode(maxInt28))
	s.Equal(`<int>-268435456</int>`, s.encode(int64(minInt28)))
	s.Equal(`<double>268435456</double>`, s.encode(maxInt28+1))
	s.Equal(`<double>9007199254740992</double>`, s.encode(int64(maxSafeInt)))
	s.Equal(`<string>9007199254740993</string>`, s.encode(int64(maxSafeInt)+1))
	s.Equal(`<string>18446744073709551615</string>`, s.encode(uint64(math.MaxUint64)))
	s.True(strings.HasPrefix(s.encode(int64(1)<<60, WithLegacyBigNumbers(true)), "<double>"))
}

func (s *EncoderSuite) TestBigNumbers() {
	n, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	s.Require().True(ok)
	s.Equal(`<string>123456789012345678901234567890</string>`, s.encode(n))
	s.Equal(`<string>1/3</string>`, s.encode(big.NewRat(1, 3)))
	s.True(strings.HasPrefix(s.encode(n, WithLegacyBigNumbers(true)), "<double>"))

	aliases := NewAliasRegistry()
	aliases.MustRegister("com.acme.Ledger", (*ledger)(nil))
	in := &ledger{Total: n, Rate: big.NewRat(2, 7), Big: int64(1) << 60}
	out, err := Encode(in, WithAliasRegistry(aliases))
	s.Require().NoError(err)

	v, err := decodeDoc(string(out), WithAliasRegistry(aliases))
	s.Require().NoError(err)
	got, ok := v.(*ledger)
	s.Require().True(ok)
	s.Equal(0, got.Total.Cmp(n))
	s.Equal(0, got.Rate.Cmp(in.Rate))
	s.Equal(in.Big, got.Big)
}

func (s *EncoderSuite) TestStringReferences() {
	s.Equal(`<array length="3"><string>abc</string><string id="0"/><string/></array>`,
		s.encode([]any{"abc", "abc", ""}))
}

func (s *EncoderSuite) TestObjectAndTraitsReferences() {
	o1 := NewObject("")
	o1.Set("n", 1)
	o2 := NewObject("")
	o2.Set("n", 2)

	s.Equal(`<array length="2"><object><traits><string>n</string></traits><int>1</int></object><ref id="1"/></array>`,
		s.encode([]any{o1, o1}))
	s.Equal(`<array length="2"><object><traits><string>n</string></traits><int>1</int></object>`+
		`<object><traits id="0"/><int>2</int></object></array>`,
		s.encode([]any{o1, o2}))
}

func (s *EncoderSuite) TestEmptyAnonymousTraits() {
	o1 := NewObject("")
	o1.Set("n", 1)
	o2 := NewObject("")
	o2.Set("n", 2)

	s.Equal(`<array length="4"><object><traits/></object>`+
		`<object><traits><string>n</string></traits><int>1</int></object>`+
		`<object><traits/></object>`+
		`<object><traits id="0"/><int>2</int></object></array>`,
		s.encode([]any{NewObject(""), o1, NewObject(""), o2}))

	s.Equal(`<array length="2"><object type="T"><traits/></object><object type="T"><traits id="0"/></object></array>`,
		s.encode([]any{NewObject("T"), NewObject("T")}))
}

func (s *EncoderSuite) TestCycles() {
	o := NewObject("")
	o.Set("self", o)
	out := s.encode(o)
	s.Equal(`<object><traits><string>self</string></traits><ref id="0"/></object>`, out)

	v, err := decodeDoc(out)
	s.Require().NoError(err)
	got := v.(*Object)
	self, _ := got.Get("self")
	s.Same(got, self)

	loop := make([]any, 1)
	loop[0] = loop
	s.Equal(`<array length="1"><ref id="0"/></array>`, s.encode(loop))
}

func (s *EncoderSuite) TestMaps() {
	m := map[string]any{"b": 1, "a": 2}
	s.Equal(`<object><traits><string>a</string><string>b</string></traits><int>2</int><int>1</int></object>`,
		s.encode(m))
	s.Equal(`<array ecma="true"><item name="a"><int>2</int></item><item name="b"><int>1</int></item></array>`,
		s.encode(m, WithLegacyMap(true)))
	s.Equal(`<array ecma="true"><item name="0"><string>x</string></item></array>`,
		s.encode(ECMAArray{"0": "x"}))

	s.Equal(`<dictionary length="2"><int>1</int><string>a</string><int>2</int><string>b</string></dictionary>`,
		s.encode(map[int]string{2: "b", 1: "a"}))
	s.Equal(`<array ecma="true"><item name="1"><string>a</string></item></array>`,
		s.encode(map[int]string{1: "a"}, WithLegacyDictionary(true)))

	dict := NewDictionary()
	dict.Set(true, "yes")
	s.Equal(`<dictionary length="1"><true/><string>yes</string></dictionary>`, s.encode(dict))
}

func (s *EncoderSuite) TestStructRoundTrip() {
	aliases := NewAliasRegistry()
	aliases.MustRegister("com.acme.Sample", (*sample)(nil))

	in := &sample{
		Name:   "root",
		Count:  7,
		Ratio:  0.25,
		Tags:   []string{"a", "b"},
		Attrs:  map[string]int{"x": 1},
		When:   time.UnixMilli(1700000000123),
		Blob:   []byte{1, 2, 3},
		Secret: "hidden",
		Child:  &sample{Name: "leaf", When: time.UnixMilli(0)},
	}
	out, err := Encode(in, WithAliasRegistry(aliases))
	s.Require().NoError(err)
	s.True(strings.HasPrefix(string(out), `<object type="com.acme.Sample">`))
	s.NotContains(string(out), "hidden")

	v, err := decodeDoc(string(out), WithAliasRegistry(aliases))
	s.Require().NoError(err)
	got, ok := v.(*sample)
	s.Require().True(ok)
	s.Equal(in.Name, got.Name)
	s.Equal(in.Count, got.Count)
	s.Equal(in.Ratio, got.Ratio)
	s.Equal(in.Tags, got.Tags)
	s.Equal(in.Attrs, got.Attrs)
	s.True(in.When.Equal(got.When))
	s.Equal(in.Blob, got.Blob)
	s.Empty(got.Secret)
	s.Require().NotNil(got.Child)
	s.Equal("leaf", got.Child.Name)
	s.Nil(got.Child.Child)
}

func (s *EncoderSuite) TestSubstitution() {
	proxies := NewProxyRegistry()
	s.Require().NoError(proxies.Register(&secret{}, redactProxy{}))
	sec := &secret{Key: "k"}
	s.Equal(`<array length="2"><object type="Redacted"><traits/></object><ref id="1"/></array>`,
		s.encode([]any{sec, sec}, WithProxyRegistry(proxies)))
}

func (s *EncoderSuite) TestArrayCollection() {
	out := s.encode(NewArrayCollection(int32(1), "a"))
	s.True(strings.HasPrefix(out, `<object type="flex.messaging.io.ArrayCollection"><traits externalizable="true" /><bytearray>`))

	v, err := decodeDoc(out)
	s.Require().NoError(err)
	ac, ok := v.(*ArrayCollection)
	s.Require().True(ok)
	s.Equal([]any{int32(1), "a"}, ac.Source)

	legacy := s.encode(NewArrayCollection("a"), WithLegacyExternalizable(true), WithLegacyCollection(true))
	s.Equal(`<array length="1"><string>a</string></array>`, legacy)
}

func (s *EncoderSuite) TestNestingLimit() {
	var v any = int32(1)
	for i := 0; i < 16; i++ {
		v = []any{v}
	}
	_, err := Encode(v)
	s.ErrorIs(err, merr.ErrNestingLimitExceeded)

	_, err = Encode(v, WithMaxCollectionNestLevel(20))
	s.NoError(err)
}

func (s *EncoderSuite) TestUnsupported() {
	_, err := Encode(make(chan int))
	s.ErrorIs(err, merr.ErrUnsupportedValue)

	_, err = Encode(complex(1, 2))
	s.ErrorIs(err, merr.ErrUnsupportedValue)

	_, err = Encode(map[string]any{"$bad": 1})
	s.ErrorIs(err, merr.ErrPropertyAccess)
}

func (s *EncoderSuite) TestWriteMessage() {
	m := &ActionMessage{
		Headers: []*MessageHeader{{Name: "auth", MustUnderstand: true, Data: "t"}},
		Bodies:  []*MessageBody{{TargetURI: "svc", ResponseURI: "/1"}},
	}
	e := NewEncoder()
	s.Require().NoError(e.WriteMessage(m))
	s.Equal(XMLDirective+`<amfx ver="3"><header name="auth" mustUnderstand="true"><string>t</string></header>`+
		`<body targetURI="svc" responseURI="/1"><null/></body></amfx>`, string(e.Bytes()))

	e.Reset()
	s.Zero(e.Len())
	s.ErrorIs(e.WriteMessage(nil), merr.ErrParameterInvalid)
}

func (s *EncoderSuite) TestCodecMessageRoundTrip() {
	c := NewCodec()
	shared := NewObject("")
	shared.Set("id", "x1")
	m := NewActionMessage()
	m.AddHeader(&MessageHeader{Name: "DSId", Data: "abc"})
	m.AddBody(&MessageBody{TargetURI: "echo", ResponseURI: "/1", Data: []any{shared, shared, 3.5}})

	data, err := c.EncodeMessage(m)
	s.Require().NoError(err)
	got, err := c.DecodeMessage(data)
	s.Require().NoError(err)

	h, ok := got.Header("DSId")
	s.Require().True(ok)
	s.Equal("abc", h.Data)
	s.Require().Len(got.Bodies, 1)
	items := got.Bodies[0].Data.([]any)
	s.Require().Len(items, 3)
	s.Same(items[0], items[1])
	s.Equal(3.5, items[2])

	_, err = c.DecodeMessage([]byte(`<amfx><body><blob/></body></amfx>`))
	s.ErrorIs(err, merr.ErrUnknownElement)
	s.True(merr.IsCodecError(err))
	s.Equal(merr.FaultCodeMessageEncoding, merr.FaultCode(err))
}

func TestEncoder(t *testing.T) {
	suite.Run(t, new(EncoderSuite))
}
