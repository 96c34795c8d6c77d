package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.racklord.io/fleet/internal/ctlerrors"
)

func newTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()

	srv := NewServer(zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Shutdown)

	client, err := NewClient(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return srv, client
}

func TestCallRoundTrip(t *testing.T) {
	srv, client := newTestServer(t)

	srv.Register("echo", func(_ context.Context, rctx Context, args json.RawMessage) (any, error) {
		var in struct {
			Msg string `json:"msg"`
		}

		require.NoError(t, json.Unmarshal(args, &in))
		assert.Equal(t, "dc1", rctx.Location)

		return map[string]string{"echo": in.Msg}, nil
	})

	var out struct {
		Echo string `json:"echo"`
	}

	err := client.Call(context.Background(), Context{Location: "dc1"}, "echo",
		map[string]string{"msg": "hello"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "hello", out.Echo)
}

func TestCallRoundTripReusesPooledConnection(t *testing.T) {
	srv, client := newTestServer(t)

	srv.Register("echo", func(context.Context, Context, json.RawMessage) (any, error) {
		return map[string]string{"echo": "ok"}, nil
	})

	for i := 0; i < 5; i++ {
		var out struct {
			Echo string `json:"echo"`
		}

		require.NoError(t, client.Call(context.Background(), Context{Location: "dc1"}, "echo", nil, &out))
		assert.Equal(t, "ok", out.Echo)
	}
}

func TestCallPropagatesErrorKind(t *testing.T) {
	srv, client := newTestServer(t)

	srv.Register("busy", func(context.Context, Context, json.RawMessage) (any, error) {
		return nil, ctlerrors.Conflict("server busy")
	})

	err := client.Call(context.Background(), Context{Location: "dc1"}, "busy", nil, nil)

	require.Error(t, err)
	assert.Equal(t, "Conflict", ctlerrors.Kind(err))
}

func TestCallUnknownMethod(t *testing.T) {
	_, client := newTestServer(t)

	err := client.Call(context.Background(), Context{Location: "dc1"}, "nope", nil, nil)
	require.Error(t, err)
}

func TestSendIsFireAndForget(t *testing.T) {
	srv, client := newTestServer(t)

	var mu sync.Mutex

	done := make(chan struct{})

	srv.Register("async", func(context.Context, Context, json.RawMessage) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		close(done)

		return nil, nil
	})

	err := client.Send(context.Background(), Context{Location: "dc1"}, "async", nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	srv := NewServer(zerolog.Nop())
	srv.Register("dup", func(context.Context, Context, json.RawMessage) (any, error) { return nil, nil })

	assert.Panics(t, func() {
		srv.Register("dup", func(context.Context, Context, json.RawMessage) (any, error) { return nil, nil })
	})
}
