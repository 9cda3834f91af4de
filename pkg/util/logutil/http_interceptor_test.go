package logutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/zeus-amfx/pkg/log"
)

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	var seen *http.Request
	h := TraceLoggerHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotNil(t, seen)
	return rec, seen
}

func TestRequestIDGenerated(t *testing.T) {
	rec, seen := serve(t, httptest.NewRequest(http.MethodPost, "/amfx", nil))
	id := RequestID(seen.Context())
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, rec.Header().Get(clientRequestIDKey))
}

func TestRequestIDPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/amfx", nil)
	req.Header.Set(clientRequestIDKeyLegacy, "abc-123")
	req.Header.Set(clientRequestMsecKey, "1700000000000")
	rec, seen := serve(t, req)
	assert.Equal(t, "abc-123", RequestID(seen.Context()))
	assert.Equal(t, "abc-123", rec.Header().Get(clientRequestIDKey))

	msec, ok := GetClientReqUnixmsec(req.Header)
	assert.True(t, ok)
	assert.EqualValues(t, 1700000000000, msec)
}

func TestTraceIDRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/amfx", nil)
	req.Header.Set(clientRequestIDKey, "4bf92f3577b34da6a3ce929d0e0e4736")
	_, seen := serve(t, req)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", RequestID(seen.Context()))
}

func TestLogLevelHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/amfx", nil)
	req.Header.Set(logLevelHeaderKey, "error")
	_, seen := serve(t, req)
	assert.False(t, log.Ctx(seen.Context()).Core().Enabled(zapcore.WarnLevel))
}

func TestBadClientMsec(t *testing.T) {
	h := http.Header{}
	h.Set(clientRequestMsecKey, "soon")
	_, ok := GetClientReqUnixmsec(h)
	assert.False(t, ok)
}
