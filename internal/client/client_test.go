package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/channel"
	"github.com/lk2023060901/zeus-amfx/internal/network/router"
	"github.com/lk2023060901/zeus-amfx/internal/network/session"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// newServer 启动一个真实的通道，before 可在通道处理前拦截请求。
func newServer(t *testing.T, before func(w http.ResponseWriter, r *http.Request) bool) *httptest.Server {
	r := router.New()
	require.NoError(t, r.Register("echo", func(_ context.Context, _ session.Session, body *amfx.MessageBody) (any, error) {
		return body.Data, nil
	}))
	require.NoError(t, r.Register("whoami", func(_ context.Context, sess session.Session, _ *amfx.MessageBody) (any, error) {
		return sess.ID(), nil
	}))
	require.NoError(t, r.Register("fail", func(context.Context, session.Session, *amfx.MessageBody) (any, error) {
		return nil, merr.WrapErrServiceInternal("broken")
	}))

	cfg := channel.DefaultConfig()
	cfg.Workers = 4
	cfg.MinCompressSize = 0
	ch, err := channel.New(cfg, r, nil)
	require.NoError(t, err)
	t.Cleanup(ch.Close)

	h := ch.Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if before != nil && before(w, r) {
			return
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string, compress bool) *Client {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.RetrySleep = time.Millisecond
	cfg.EnableCompression = compress
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCall(t *testing.T) {
	for _, compress := range []bool{false, true} {
		srv := newServer(t, nil)
		c := newClient(t, srv.URL, compress)
		ctx := context.Background()

		v, err := c.Call(ctx, "echo", "a", int32(1))
		require.NoError(t, err)
		assert.Equal(t, []any{"a", int32(1)}, v)
		require.NotEmpty(t, c.DSId())

		v, err = c.Call(ctx, "whoami")
		require.NoError(t, err)
		assert.Equal(t, c.DSId(), v)

		_, err = c.Call(ctx, "fail")
		var fault *FaultError
		require.True(t, errors.As(err, &fault))
		assert.Equal(t, merr.FaultCodeServer, fault.Code)
		assert.Contains(t, fault.Message, "broken")
		assert.Equal(t, "code=5", fault.Detail)

		_, err = c.Call(ctx, "nobody")
		require.True(t, errors.As(err, &fault))
		assert.Contains(t, fault.Message, "route not found")
	}
}

func TestRetry(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) bool {
		if hits.Inc() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return true
		}
		return false
	})
	c := newClient(t, srv.URL, false)

	v, err := c.Call(context.Background(), "echo", "x")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, v)
	assert.Equal(t, int32(3), hits.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) bool {
		hits.Inc()
		w.WriteHeader(http.StatusBadRequest)
		return true
	})
	c := newClient(t, srv.URL, false)

	_, err := c.Call(context.Background(), "echo")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(DefaultConfig())
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}
