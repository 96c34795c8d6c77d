// Package rpc implements the wire transport: a small
// framed-JSON protocol between the coordinator (C8) and location-local
// workers, exposing send (fire-and-forget) and call (blocking reply) over
// persistent TCP connections pooled per worker endpoint
// (go.racklord.io/fleet/internal/connpool). Every call's first positional is
// a Context carrying the reply address, operator identity, and location.
package rpc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame so a corrupt length prefix can't make a
// peer allocate unbounded memory.
const maxFrameSize = 16 << 20

// Context is the mandatory first positional of every RPC method,
// carrying the reply address, acting user, and location for every call.
type Context struct {
	ReplyTo  string `json:"reply_to,omitempty"`
	User     string `json:"user,omitempty"`
	Location string `json:"location"`
}

// frameKind distinguishes a fire-and-forget frame from one expecting a
// reply frame on the same connection.
type frameKind string

const (
	kindSend frameKind = "send"
	kindCall frameKind = "call"
)

// envelope is the wire shape of one send/call request.
type envelope struct {
	Kind frameKind       `json:"kind"`
	Func string          `json:"func"`
	Ctx  Context         `json:"ctx"`
	Args json.RawMessage `json:"args"`
}

// reply is the wire shape of one call response. Kind is the ctlerrors kind
// name (empty on success), unrelated to envelope.Kind above.
type reply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HandlerFunc implements one registered RPC method. args is the raw JSON
// payload following ctx; the returned value is marshaled as the call's
// result (ignored for send).
type HandlerFunc func(ctx context.Context, rctx Context, args json.RawMessage) (any, error)

// writeFrame writes v as a length-prefixed JSON frame: a 4-byte big-endian
// byte count followed by the encoded body.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}

	return nil
}

// readFrame reads one length-prefixed frame from r and decodes it into v.
func readFrame(r io.Reader, v any) error {
	var hdr [4]byte

	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}

	return nil
}
