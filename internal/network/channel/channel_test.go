package channel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/compressor"
	"github.com/lk2023060901/zeus-amfx/internal/network/router"
	"github.com/lk2023060901/zeus-amfx/internal/network/session"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

type fixture struct {
	ch      *Channel
	started chan struct{}
	release chan struct{}
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	f := &fixture{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	r := router.New()
	require.NoError(t, r.Register("echo", func(_ context.Context, _ session.Session, body *amfx.MessageBody) (any, error) {
		return body.Data, nil
	}))
	require.NoError(t, r.Register("big", func(context.Context, session.Session, *amfx.MessageBody) (any, error) {
		return strings.Repeat("payload-", 512), nil
	}))
	require.NoError(t, r.Register("chan", func(context.Context, session.Session, *amfx.MessageBody) (any, error) {
		return make(chan int), nil
	}))
	require.NoError(t, r.Register("block", func(ctx context.Context, _ session.Session, _ *amfx.MessageBody) (any, error) {
		f.started <- struct{}{}
		select {
		case <-f.release:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.MinCompressSize = 64
	if mutate != nil {
		mutate(&cfg)
	}
	ch, err := New(cfg, r, nil)
	require.NoError(t, err)
	t.Cleanup(ch.Close)
	f.ch = ch
	return f
}

func request(t *testing.T, target string, data any) []byte {
	m := amfx.NewActionMessage()
	m.AddBody(&amfx.MessageBody{TargetURI: target, ResponseURI: "/1", Data: data})
	out, err := amfx.NewCodec().EncodeMessage(m)
	require.NoError(t, err)
	return out
}

func (f *fixture) do(body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, f.ch.Config().Path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/xml")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.ch.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeReply(t *testing.T, data []byte) *amfx.ActionMessage {
	m, err := amfx.NewCodec().DecodeMessage(data)
	require.NoError(t, err)
	return m
}

func faultCode(t *testing.T, body *amfx.MessageBody) any {
	fault, ok := body.Data.(*amfx.Object)
	require.True(t, ok)
	v, _ := fault.Get("faultCode")
	return v
}

func TestEchoAndSession(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(request(t, "echo", []any{"hi"}), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Client-Request-Id"))
	dsid := rec.Header().Get(DSIdHeader)
	require.NotEmpty(t, dsid)

	reply := decodeReply(t, rec.Body.Bytes())
	require.Len(t, reply.Bodies, 1)
	assert.Equal(t, "/1/onResult", reply.Bodies[0].TargetURI)
	assert.Equal(t, []any{"hi"}, reply.Bodies[0].Data)

	rec = f.do(request(t, "echo", nil), map[string]string{DSIdHeader: dsid, "Content-Type": "application/xml; charset=utf-8"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dsid, rec.Header().Get(DSIdHeader))
	assert.Equal(t, 1, f.ch.Sessions().Count())

	rec = f.do(request(t, "missing", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reply = decodeReply(t, rec.Body.Bytes())
	assert.Equal(t, "/1/onStatus", reply.Bodies[0].TargetURI)
	assert.Equal(t, merr.FaultCodeServer, faultCode(t, reply.Bodies[0]))
}

func TestRejectedRequests(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxBodySize = 256 })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	f.ch.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	rec = f.do(request(t, "echo", nil), map[string]string{"Content-Type": "text/plain"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = f.do(request(t, "echo", strings.Repeat("x", 300)), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = f.do(request(t, "echo", nil), map[string]string{"Content-Encoding": "br"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestMalformedRequestFault(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do([]byte(`<amfx><body><blob/></body></amfx>`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reply := decodeReply(t, rec.Body.Bytes())
	require.Len(t, reply.Bodies, 1)
	assert.Equal(t, "/onStatus", reply.Bodies[0].TargetURI)
	assert.Equal(t, merr.FaultCodeMessageEncoding, faultCode(t, reply.Bodies[0]))

	rec = f.do(request(t, "chan", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reply = decodeReply(t, rec.Body.Bytes())
	assert.Equal(t, "/1/onStatus", reply.Bodies[0].TargetURI)
}

func TestCompression(t *testing.T) {
	f := newFixture(t, nil)
	zc, err := compressor.NewZstdCompressor(compressor.WithConcurrency(1))
	require.NoError(t, err)
	defer zc.Close()

	packed, err := zc.Compress(nil, request(t, "big", nil))
	require.NoError(t, err)
	rec := f.do(packed, map[string]string{"Content-Encoding": "zstd", "Accept-Encoding": "gzip, zstd"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))

	plain, err := zc.Decompress(nil, rec.Body.Bytes())
	require.NoError(t, err)
	reply := decodeReply(t, plain)
	assert.Equal(t, strings.Repeat("payload-", 512), reply.Bodies[0].Data)

	// 小响应不压缩
	rec = f.do(request(t, "echo", nil), map[string]string{"Accept-Encoding": "zstd"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))

	off := newFixture(t, func(c *Config) { c.EnableCompression = false })
	rec = off.do(packed, map[string]string{"Content-Encoding": "zstd"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestOverloadAndTimeout(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Workers = 1 })

	blocking := request(t, "block", nil)
	done := make(chan int, 1)
	go func() { done <- f.do(blocking, nil).Code }()
	<-f.started

	rec := f.do(request(t, "echo", nil), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(f.release)
	assert.Equal(t, http.StatusOK, <-done)

	slow := newFixture(t, func(c *Config) { c.RequestTimeout = 20 * time.Millisecond })
	rec = slow.do(request(t, "block", nil), nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.ch.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+f.ch.Config().Path, "application/xml", bytes.NewReader(request(t, "echo", int32(7))))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, int32(7), decodeReply(t, data).Bodies[0].Data)
}
