package ipalloc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"go.racklord.io/fleet/internal/inventory"
)

const (
	omapiProtocolVersion uint32 = 100
	omapiHeaderSize       uint32 = 24
)

// OMAPINotifier reloads DHCP server state over the ISC OMAPI wire protocol.
// It speaks only the startup handshake the real protocol requires and then
// sends a single control message per subnet, narrowed from the full OMAPI
// object protocol (host add/get/delete) down to the one operation C2 needs:
// tell the lease server which subnets to serve.
type OMAPINotifier struct {
	addr    string
	timeout time.Duration
}

func NewOMAPINotifier(addr string, timeout time.Duration) *OMAPINotifier {
	return &OMAPINotifier{addr: addr, timeout: timeout}
}

func (n *OMAPINotifier) Reload(ctx context.Context, subnets []*inventory.Subnet) error {
	dialer := net.Dialer{Timeout: n.timeout}

	conn, err := dialer.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return fmt.Errorf("dial omapi %s: %w", n.addr, err)
	}
	defer conn.Close() //nolint:errcheck

	if err := omapiStartup(conn); err != nil {
		return fmt.Errorf("omapi startup: %w", err)
	}

	for _, sn := range subnets {
		if err := omapiReloadSubnet(conn, sn); err != nil {
			return fmt.Errorf("reload subnet %s/%d: %w", sn.IP, sn.VLAN, err)
		}
	}

	return nil
}

func omapiStartup(conn net.Conn) error {
	req := make([]byte, 8)
	binary.BigEndian.PutUint32(req[0:4], omapiProtocolVersion)
	binary.BigEndian.PutUint32(req[4:8], omapiHeaderSize)

	if _, err := conn.Write(req); err != nil {
		return err
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return err
	}

	if !bytes.Equal(req, resp) {
		return fmt.Errorf("protocol mismatch")
	}

	return nil
}

// omapiReloadSubnet sends a minimal "reload" control message identifying the
// subnet by CIDR and vlan; the real lease server is expected to diff its
// served-subnet list against the inventory store directly rather than
// receiving the full lease set over the wire.
func omapiReloadSubnet(conn net.Conn, sn *inventory.Subnet) error {
	payload := fmt.Appendf(nil, "reload %s/%d vlan=%d\n", sn.IP, sn.Mask, sn.VLAN)

	_, err := conn.Write(payload)

	return err
}
