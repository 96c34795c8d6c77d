// Package ipalloc implements the fleet controller's IP/port allocator
// (component C2): idempotent DHCP lease assignment backed by the inventory
// store's port table, serialized per-process by a single named mutex.
package ipalloc

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
)

// DefaultLastOffset is added to a subnet's broadcast address to give the last
// allocatable address. The allocator always uses it; the dhcp.first_ip_offset
// and dhcp.last_ip_offset config values are not read here.
const DefaultLastOffset = -3

// DHCPNotifier tells the downstream DHCP server which allocations to serve.
// The production implementation talks OMAPI-style to an external lease
// server; tests substitute a no-op or recording fake.
type DHCPNotifier interface {
	Reload(ctx context.Context, subnets []*inventory.Subnet) error
}

// Allocator is the C2 contract. Allocation is serialized by mu, the
// "allocator" named mutex collapsed to a single field since
// this process is the only writer of Port rows.
type Allocator struct {
	store    *inventory.Store
	notifier DHCPNotifier
	log      zerolog.Logger

	mu sync.Mutex
}

func New(store *inventory.Store, notifier DHCPNotifier, log zerolog.Logger) *Allocator {
	return &Allocator{store: store, notifier: notifier, log: log.With().Str("component", "ipalloc").Logger()}
}

// Allocate implements the allocate(rack, subnet, serial, mac, ip?) contract.
func (a *Allocator) Allocate(ctx context.Context, rackName string, subnet *inventory.Subnet, serial, mac, requestedIP string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.store.PortGetByRackVLANSerial(ctx, rackName, subnet.VLAN, serial)
	if err == nil {
		if requestedIP != "" && requestedIP != existing.IP {
			return "", ctlerrors.Conflict("serial %s already leases %s on rack %s vlan %d, requested %s",
				serial, existing.IP, rackName, subnet.VLAN, requestedIP)
		}

		return existing.IP, nil
	}

	if ctlerrors.Kind(err) != "NotFound" {
		return "", err
	}

	ip := requestedIP
	if ip == "" {
		ip, err = a.chooseAddress(ctx, rackName, subnet)
		if err != nil {
			return "", err
		}
	}

	if _, err := a.store.PortCreate(ctx, &inventory.Port{
		RackName: rackName,
		DeviceID: serial,
		VLANTag:  subnet.VLAN,
		IP:       ip,
		MAC:      mac,
		SubnetID: subnet.ID,
	}); err != nil {
		return "", err
	}

	if err := a.notifier.Reload(ctx, []*inventory.Subnet{subnet}); err != nil {
		return "", ctlerrors.ProvisionIncomplete("dhcp reload after allocating %s: %v", ip, err)
	}

	return ip, nil
}

// chooseAddress picks the lowest unused address in
// subnet[first_offset..last_offset], excluding existing leases in that
// vlan on that rack.
func (a *Allocator) chooseAddress(ctx context.Context, rackName string, subnet *inventory.Subnet) (string, error) {
	network := &net.IPNet{
		IP:   net.ParseIP(subnet.IP).To4(),
		Mask: net.CIDRMask(subnet.Mask, 32),
	}
	if network.IP == nil {
		return "", ctlerrors.InvalidData("subnet %s has no parseable network address", subnet.IP)
	}

	first := subnet.FirstIP
	if first == "" {
		first = firstUsableAddress(network)
	}

	last := lastUsableAddress(network, DefaultLastOffset)

	used, err := a.usedAddresses(ctx, rackName, subnet.VLAN)
	if err != nil {
		return "", err
	}

	for ip := ip2int(net.ParseIP(first)); ip <= ip2int(net.ParseIP(last)); ip++ {
		candidate := int2ip(ip).String()
		if !used[candidate] {
			return candidate, nil
		}
	}

	return "", ctlerrors.Conflict("subnet %s/%d exhausted on rack %s", subnet.IP, subnet.Mask, rackName)
}

func (a *Allocator) usedAddresses(ctx context.Context, rackName string, vlan int) (map[string]bool, error) {
	rows, err := a.store.PortsByRackVLAN(ctx, rackName, vlan)
	if err != nil {
		return nil, err
	}

	used := make(map[string]bool, len(rows))
	for _, p := range rows {
		used[p.IP] = true
	}

	return used, nil
}

// DeleteForSerial implements delete_for_serial(serial, ignored_net?).
func (a *Allocator) DeleteForSerial(ctx context.Context, serial string, ignoredSubnetID *int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	affected, err := a.store.PortListBySerial(ctx, serial)
	if err != nil {
		return err
	}

	if err := a.store.PortDeleteForSerial(ctx, serial, ignoredSubnetID); err != nil {
		return err
	}

	subnets, err := a.distinctSubnets(ctx, affected, ignoredSubnetID)
	if err != nil {
		return err
	}

	if len(subnets) == 0 {
		return nil
	}

	if err := a.notifier.Reload(ctx, subnets); err != nil {
		return ctlerrors.ProvisionIncomplete("dhcp reload after deleting leases for %s: %v", serial, err)
	}

	return nil
}

func (a *Allocator) distinctSubnets(ctx context.Context, ports []*inventory.Port, ignoredSubnetID *int64) ([]*inventory.Subnet, error) {
	seen := make(map[int64]bool)

	var out []*inventory.Subnet

	for _, p := range ports {
		if ignoredSubnetID != nil && p.SubnetID == *ignoredSubnetID {
			continue
		}

		if seen[p.SubnetID] {
			continue
		}

		seen[p.SubnetID] = true

		sn, err := a.store.SubnetGetByID(ctx, p.SubnetID)
		if err != nil {
			return nil, err
		}

		out = append(out, sn)
	}

	return out, nil
}

// EnsureSubnets implements ensure_subnets(subnets): called when a rack
// gains a worker owner, it re-syncs which subnets the DHCP plane serves.
// The per-rack ip2rack argument the source occasionally threads through is
// intentionally absent here: it is never read on the
// default path, so this always syncs every subnet the caller passes.
func (a *Allocator) EnsureSubnets(ctx context.Context, subnets []*inventory.Subnet) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.notifier.Reload(ctx, subnets)
}

func firstUsableAddress(n *net.IPNet) string {
	ip := append(net.IP{}, n.IP.To4()...)
	ip[3]++

	return ip.String()
}

func lastUsableAddress(n *net.IPNet, offset int) string {
	broadcast := make(net.IP, 4)
	for i := range broadcast {
		broadcast[i] = n.IP.To4()[i] | ^n.Mask[i]
	}

	v := int64(ip2int(broadcast)) + int64(offset)
	if v < 0 {
		v = 0
	}

	return int2ip(uint32(v)).String()
}

func ip2int(ip net.IP) uint32 {
	v4 := ip.To4()
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

func int2ip(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
