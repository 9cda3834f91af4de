package router

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/session"
	"github.com/lk2023060901/zeus-amfx/pkg/metrics"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

func echo(_ context.Context, _ session.Session, body *amfx.MessageBody) (any, error) {
	return body.Data, nil
}

func TestRegister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", echo))
	assert.ErrorIs(t, r.Register("echo", echo), merr.ErrRouteAlreadyExist)
	assert.ErrorIs(t, r.Register(" ", echo), merr.ErrRouteInvalid)
	assert.ErrorIs(t, r.Register("nil", nil), merr.ErrRouteInvalid)
}

func faultField(t *testing.T, body *amfx.MessageBody, key string) any {
	fault, ok := body.Data.(*amfx.Object)
	require.True(t, ok)
	assert.Equal(t, ErrorMessageType, fault.Type)
	v, ok := fault.Get(key)
	require.True(t, ok)
	return v
}

func TestHandle(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("echo", echo))
	require.NoError(t, r.Register("math", func(_ context.Context, _ session.Session, body *amfx.MessageBody) (any, error) {
		return "service:" + body.TargetURI, nil
	}))
	require.NoError(t, r.Register("fail", func(context.Context, session.Session, *amfx.MessageBody) (any, error) {
		return nil, errors.New("boom")
	}))
	require.NoError(t, r.Register("bad", func(context.Context, session.Session, *amfx.MessageBody) (any, error) {
		return nil, merr.WrapErrMalformedLiteral("int", "x")
	}))
	require.NoError(t, r.Register("panic", func(context.Context, session.Session, *amfx.MessageBody) (any, error) {
		panic("oops")
	}))

	req := amfx.NewActionMessage()
	req.AddBody(&amfx.MessageBody{TargetURI: "echo", ResponseURI: "/1", Data: []any{"hi"}})
	req.AddBody(&amfx.MessageBody{TargetURI: "math.add", ResponseURI: "/2"})
	req.AddBody(&amfx.MessageBody{TargetURI: "missing", ResponseURI: "/3"})
	req.AddBody(&amfx.MessageBody{TargetURI: "fail", ResponseURI: "/4"})
	req.AddBody(&amfx.MessageBody{TargetURI: "bad", ResponseURI: "/5"})
	req.AddBody(&amfx.MessageBody{TargetURI: "panic", ResponseURI: "/6"})
	req.AddBody(nil)

	unrouted := metrics.BodyDispatch.WithLabelValues(unroutedLabel, metrics.FailLabel)
	mathOK := metrics.BodyDispatch.WithLabelValues("math", metrics.SuccessLabel)
	unroutedBefore, mathBefore := testutil.ToFloat64(unrouted), testutil.ToFloat64(mathOK)

	sess := session.NewBaseSession(nil, "", "")
	resp := r.Handle(context.Background(), sess, req)
	require.Len(t, resp.Bodies, 6)

	assert.Equal(t, "/1/onResult", resp.Bodies[0].TargetURI)
	assert.Empty(t, resp.Bodies[0].ResponseURI)
	assert.Equal(t, []any{"hi"}, resp.Bodies[0].Data)

	assert.Equal(t, "/2/onResult", resp.Bodies[1].TargetURI)
	assert.Equal(t, "service:math.add", resp.Bodies[1].Data)

	assert.Equal(t, "/3/onStatus", resp.Bodies[2].TargetURI)
	assert.Equal(t, merr.FaultCodeServer, faultField(t, resp.Bodies[2], "faultCode"))
	assert.Contains(t, faultField(t, resp.Bodies[2], "faultString"), "route not found")

	assert.Equal(t, "/4/onStatus", resp.Bodies[3].TargetURI)
	assert.Equal(t, "boom", faultField(t, resp.Bodies[3], "faultString"))

	assert.Equal(t, "/5/onStatus", resp.Bodies[4].TargetURI)
	assert.Equal(t, merr.FaultCodeMessageEncoding, faultField(t, resp.Bodies[4], "faultCode"))
	assert.Equal(t, "code=100", faultField(t, resp.Bodies[4], "faultDetail"))

	assert.Equal(t, "/6/onStatus", resp.Bodies[5].TargetURI)
	assert.Contains(t, faultField(t, resp.Bodies[5], "faultString"), "oops")

	assert.Equal(t, unroutedBefore+1, testutil.ToFloat64(unrouted))
	assert.Equal(t, mathBefore+1, testutil.ToFloat64(mathOK))

	assert.Empty(t, r.Handle(context.Background(), nil, nil).Bodies)
}

func TestFaultEncodes(t *testing.T) {
	out, err := amfx.Encode(NewFault(merr.WrapErrRouteNotFound("x")))
	require.NoError(t, err)
	assert.Contains(t, string(out), `<object type="flex.messaging.messages.ErrorMessage">`)
	assert.Contains(t, string(out), "Server.Processing")
}
