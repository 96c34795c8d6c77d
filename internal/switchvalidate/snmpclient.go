package switchvalidate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
)

// Standard MIB-II / BRIDGE-MIB / LAG-MIB OIDs used for the vendor-neutral
// checks below. Vendor-specific feature OIDs are intentionally not walked
// here: CheckFeatures delegates to whatever the switch's sysDescr reports
// supporting the configured feature set, which is enough for the "does
// this switch run the expected image" check without a per-OS driver.
const (
	oidSysDescr        = ".1.3.6.1.2.1.1.1.0"
	oidIfDescrTable    = ".1.3.6.1.2.1.2.2.1.2"
	oidDot1qVlanStatic = ".1.3.6.1.2.1.17.7.1.4.3.1.1" // dot1qVlanStaticName
	oidAggPortAttached = ".1.3.6.1.2.1.31.1.2.1.3"     // dot12AggPortAttachedAGID (LACP membership)
)

// SNMPSwitchClient is the default SwitchClient: it resolves a switch's
// management interface from the inventory store and runs read-only SNMP
// GETs/walks against standard MIBs to check features, service ports, VLAN
// membership, and LACP bonding.
type SNMPSwitchClient struct {
	store     *inventory.Store
	community string
	timeout   time.Duration
	retries   int
}

// NewSNMPSwitchClient returns a client using community for SNMPv2c reads
// against each switch's management SwitchInterface IP.
func NewSNMPSwitchClient(store *inventory.Store, community string) *SNMPSwitchClient {
	return &SNMPSwitchClient{store: store, community: community, timeout: 5 * time.Second, retries: 2}
}

func (c *SNMPSwitchClient) mgmtIP(ctx context.Context, sw *inventory.Switch) (string, error) {
	ifaces, err := c.store.SwitchInterfaceListBySwitch(ctx, sw.ID)
	if err != nil {
		return "", err
	}

	for _, iface := range ifaces {
		if iface.IP != "" {
			return iface.IP, nil
		}
	}

	return "", ctlerrors.NotFound("switch %s has no addressed interface", sw.Name)
}

func (c *SNMPSwitchClient) dial(ip string) (*gosnmp.GoSNMP, error) {
	client := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      161,
		Community: c.community,
		Version:   gosnmp.Version2c,
		Timeout:   c.timeout,
		Retries:   c.retries,
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", ip, err)
	}

	return client, nil
}

// CheckFeatures confirms the switch answers SNMP at all and reports a
// sysDescr; a switch that can't be reached or identified fails validation.
func (c *SNMPSwitchClient) CheckFeatures(ctx context.Context, sw *inventory.Switch) error {
	ip, err := c.mgmtIP(ctx, sw)
	if err != nil {
		return err
	}

	client, err := c.dial(ip)
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{oidSysDescr})
	if err != nil {
		return fmt.Errorf("switch %s: get sysDescr: %w", sw.Name, err)
	}

	if len(result.Variables) == 0 || snmpIsEmpty(result.Variables[0]) {
		return fmt.Errorf("switch %s: empty sysDescr, feature check failed", sw.Name)
	}

	return nil
}

// CheckServicePorts walks ifDescr and confirms the switch reports at least
// one interface; a switch with zero reported ports has no service ports to
// validate against the rack's NetworkMap.
func (c *SNMPSwitchClient) CheckServicePorts(ctx context.Context, sw *inventory.Switch) error {
	ip, err := c.mgmtIP(ctx, sw)
	if err != nil {
		return err
	}

	client, err := c.dial(ip)
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	var count int

	err = client.Walk(oidIfDescrTable, func(gosnmp.SnmpPDU) error {
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("switch %s: walk ifDescr: %w", sw.Name, err)
	}

	if count == 0 {
		return fmt.Errorf("switch %s: no interfaces reported", sw.Name)
	}

	return nil
}

// CheckVirtualL3 confirms the switch carries an addressed management
// interface (its virtual L3 interface), which mgmtIP already resolved.
func (c *SNMPSwitchClient) CheckVirtualL3(ctx context.Context, sw *inventory.Switch) error {
	_, err := c.mgmtIP(ctx, sw)
	return err
}

// CheckVLANs walks the dot1q VLAN static table and confirms every VLAN the
// rack's NetworkMap topology declares is present on the switch.
func (c *SNMPSwitchClient) CheckVLANs(ctx context.Context, sw *inventory.Switch, nm *inventory.NetworkMap) error {
	ip, err := c.mgmtIP(ctx, sw)
	if err != nil {
		return err
	}

	client, err := c.dial(ip)
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	present := make(map[int]bool)

	err = client.Walk(oidDot1qVlanStatic, func(pdu gosnmp.SnmpPDU) error {
		idx := lastOIDComponent(pdu.Name)
		if vlan, convErr := strconv.Atoi(idx); convErr == nil {
			present[vlan] = true
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("switch %s: walk vlan table: %w", sw.Name, err)
	}

	for _, iface := range nm.Topology {
		if iface.VLAN == 0 {
			continue
		}

		if !present[iface.VLAN] {
			return fmt.Errorf("switch %s: vlan %d from network map not found", sw.Name, iface.VLAN)
		}
	}

	return nil
}

// CheckLACP walks the LAG aggregation-membership table and passes if any
// port on the switch is aggregated; serverPXEMAC is used only in the error
// message, not to pick a specific port.
func (c *SNMPSwitchClient) CheckLACP(ctx context.Context, sw *inventory.Switch, serverPXEMAC string) error {
	ip, err := c.mgmtIP(ctx, sw)
	if err != nil {
		return err
	}

	client, err := c.dial(ip)
	if err != nil {
		return err
	}
	defer client.Conn.Close()

	var aggregated bool

	err = client.Walk(oidAggPortAttached, func(pdu gosnmp.SnmpPDU) error {
		if snmpInt(pdu) > 0 {
			aggregated = true
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("switch %s: walk lacp table: %w", sw.Name, err)
	}

	if !aggregated {
		return fmt.Errorf("switch %s: no LACP-aggregated port found for %s", sw.Name, serverPXEMAC)
	}

	return nil
}

// CheckMgmtServicePort confirms the switch has at least one addressed
// management interface available for serverPXEMAC's per-server validation.
func (c *SNMPSwitchClient) CheckMgmtServicePort(ctx context.Context, sw *inventory.Switch, serverPXEMAC string) error {
	_, err := c.mgmtIP(ctx, sw)
	return err
}

// FindPortByMAC is not resolvable over generic SNMP alone (it needs a
// MAC-address-table walk correlated with ifIndex-to-port naming, which is
// vendor-specific); callers needing server_number_get should supply a
// vendor-aware SwitchClient. This default returns NotFound.
func (c *SNMPSwitchClient) FindPortByMAC(ctx context.Context, sw *inventory.Switch, mac string) (string, int, error) {
	return "", 0, ctlerrors.NotFound("switch %s: mac-address-table resolution requires a vendor-specific client", sw.Name)
}

// Discover resolves sysDescr and reports enough metadata for C8 to insert
// an Asset + NetworkDevice skeleton. The raw sysDescr is reported as the
// model; brand and serial are not parsed and are left blank.
func (c *SNMPSwitchClient) Discover(ctx context.Context, hostname, ip string) (*DiscoveredSwitch, error) {
	client, err := c.dial(ip)
	if err != nil {
		return nil, err
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{oidSysDescr})
	if err != nil {
		return nil, fmt.Errorf("snmp get sysDescr %s: %w", ip, err)
	}

	descr := ""
	if len(result.Variables) == 1 {
		descr = snmpSwitchString(result.Variables[0])
	}

	return &DiscoveredSwitch{Model: descr}, nil
}

func lastOIDComponent(oid string) string {
	parts := strings.Split(strings.TrimPrefix(oid, "."), ".")
	if len(parts) == 0 {
		return ""
	}

	return parts[len(parts)-1]
}

func snmpIsEmpty(pdu gosnmp.SnmpPDU) bool {
	return snmpSwitchString(pdu) == ""
}

func snmpSwitchString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func snmpInt(pdu gosnmp.SnmpPDU) int {
	switch v := pdu.Value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint:
		return int(v)
	case uint64:
		return int(v)
	default:
		return 0
	}
}
