package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.racklord.io/fleet/internal/connpool"
	"go.racklord.io/fleet/internal/ctlerrors"
)

// defaultPoolSize bounds how many idle TCP connections a Client keeps open
// to a single worker endpoint.
const defaultPoolSize = 8

// Client is the caller side of the wire transport, one instance per remote
// endpoint (a worker's registered Endpoint, or the coordinator's), backed by
// a pool of persistent TCP connections (internal/connpool).
type Client struct {
	pool connpool.Pool
}

// NewClient dials addr (host:port) lazily, pooling up to defaultPoolSize
// idle connections.
func NewClient(addr string) (*Client, error) {
	pool, err := connpool.NewChannelPool(defaultPoolSize, func() (net.Conn, error) {
		return net.DialTimeout("tcp", addr, 10*time.Second)
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: new pool for %s: %w", addr, err)
	}

	return &Client{pool: pool}, nil
}

// Close releases every pooled connection.
func (c *Client) Close() {
	c.pool.Close()
}

// Send fires fn(ctx, args) at the remote and does not wait for it to
// complete; only transport-level failures (the request itself couldn't be
// written) are returned.
func (c *Client) Send(ctx context.Context, rctx Context, fn string, args any) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args for %s: %w", fn, err)
	}

	conn, err := c.checkout(ctx)
	if err != nil {
		return fmt.Errorf("send %s: %w", fn, err)
	}

	env := envelope{Kind: kindSend, Func: fn, Ctx: rctx, Args: argsJSON}

	if err := writeFrame(conn, env); err != nil {
		markUnusable(conn)
		_ = conn.Close()

		return fmt.Errorf("send %s: %w", fn, err)
	}

	return conn.Close()
}

// Call invokes fn(ctx, args) at the remote and blocks for its reply,
// unmarshaling the result into out (a pointer; may be nil if the caller
// doesn't need the result).
func (c *Client) Call(ctx context.Context, rctx Context, fn string, args any, out any) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args for %s: %w", fn, err)
	}

	conn, err := c.checkout(ctx)
	if err != nil {
		return fmt.Errorf("call %s: %w", fn, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	env := envelope{Kind: kindCall, Func: fn, Ctx: rctx, Args: argsJSON}

	if err := writeFrame(conn, env); err != nil {
		markUnusable(conn)
		_ = conn.Close()

		return fmt.Errorf("call %s: %w", fn, err)
	}

	var rep reply

	if err := readFrame(conn, &rep); err != nil {
		markUnusable(conn)
		_ = conn.Close()

		return fmt.Errorf("call %s: %w", fn, err)
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("call %s: return connection to pool: %w", fn, err)
	}

	if rep.Error != "" {
		return errorFromKind(rep.Kind, rep.Error)
	}

	if out != nil && len(rep.Result) > 0 {
		if err := json.Unmarshal(rep.Result, out); err != nil {
			return fmt.Errorf("call %s: decode result: %w", fn, err)
		}
	}

	return nil
}

func (c *Client) checkout(ctx context.Context) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.pool.Get()
}

// markUnusable tells the pool to drop conn instead of recycling it, for use
// before Close on any I/O error.
func markUnusable(conn net.Conn) {
	if pc, ok := conn.(*connpool.Conn); ok {
		pc.MarkUnusable()
	}
}

// kindOf returns the ctlerrors kind name of err, used when serializing an
// error across the wire: operator-facing RPCs return the kind and message,
// never a stack trace.
func kindOf(err error) string {
	return ctlerrors.Kind(err)
}

// errorFromKind reconstructs a local error carrying the remote's kind, so
// callers can still errors.Is against the ctlerrors sentinels after a round
// trip through the wire.
func errorFromKind(kind, message string) error {
	switch kind {
	case "NotFound":
		return ctlerrors.NotFound("%s", message)
	case "Conflict":
		return ctlerrors.Conflict("%s", message)
	case "ManyFound":
		return ctlerrors.ManyFound("%s", message)
	case "Ignore":
		return ctlerrors.Ignore("%s", message)
	case "InvalidData":
		return ctlerrors.InvalidData("%s", message)
	case "ProvisionIncomplete":
		return ctlerrors.ProvisionIncomplete("%s", message)
	default:
		return fmt.Errorf("%s", message)
	}
}
