// Package provision implements the fleet controller's provisioning adapter
// (component C6): a neutral lifecycle contract over a configurable
// back-end, with a default implementation targeting a host-management REST
// service plus a shelled-out DNS tool for A/PTR maintenance.
package provision

import (
	"context"
	"fmt"

	"go.racklord.io/fleet/internal/inventory"
)

// Profile is one entry from os_list.
type Profile struct {
	Name    string
	Family  string
	Version string
}

// Adapter is the neutral C6 contract; Backend implementations are swappable.
type Adapter struct {
	backend Backend
	dns     DNSTool
}

func New(backend Backend, dns DNSTool) *Adapter {
	return &Adapter{backend: backend, dns: dns}
}

// Backend is the host-management side of the contract, implemented by
// RESTBackend by default.
type Backend interface {
	DeleteHost(ctx context.Context, serial string) error
	EnsureSubnet(ctx context.Context, subnet *inventory.Subnet) error
	RegisterHost(ctx context.Context, req HostRegistration) error
	BuildComplete(ctx context.Context, serial, iface string) (bool, string, error)
	RestartPXE(ctx context.Context, serial string) error
	OSList(ctx context.Context, name string) ([]Profile, error)
}

// DNSTool shells out to the configured DNS maintenance executable.
type DNSTool interface {
	ChangeRecord(ctx context.Context, fqdn, recordType, value string, ttl int) error
	DeleteRecord(ctx context.Context, fqdn, recordType string) error
	VerifyPropagated(ctx context.Context, fqdn, recordType, value string) error
}

// HostRegistration is the back-end's register_host request, covering both
// S0→S1 (verification profile, mgmt vlan) and S1→S2 (target profile,
// production primary, bonded/tagged interfaces).
type HostRegistration struct {
	Serial       string
	Hostname     string
	OSProfile    string
	PrimaryIP    string
	PrimaryVLAN  int
	Gateway      string
	Interfaces   []inventory.InterfaceSpec
}

// ServerDelete implements server_delete(server): remove any prior host
// record then delete associated DNS entries.
func (a *Adapter) ServerDelete(ctx context.Context, sv *inventory.Server) error {
	if err := a.backend.DeleteHost(ctx, sv.Name); err != nil {
		return fmt.Errorf("delete host %s: %w", sv.Name, err)
	}

	if sv.FQDN == "" {
		return nil
	}

	if err := a.dns.DeleteRecord(ctx, sv.FQDN, "A"); err != nil {
		return fmt.Errorf("delete A record for %s: %w", sv.FQDN, err)
	}

	if err := a.dns.DeleteRecord(ctx, sv.FQDN, "PTR"); err != nil {
		return fmt.Errorf("delete PTR record for %s: %w", sv.FQDN, err)
	}

	return nil
}

// ServerS0S1 implements server_s0_s1(server, rack): register the host with
// a verification profile pinned to the management vlan, then restart into
// PXE.
func (a *Adapter) ServerS0S1(ctx context.Context, sv *inventory.Server, rack *inventory.Rack, nm *inventory.NetworkMap, mgmtSubnet *inventory.Subnet) error {
	for _, sn := range []*inventory.Subnet{mgmtSubnet} {
		if err := a.backend.EnsureSubnet(ctx, sn); err != nil {
			return fmt.Errorf("ensure subnet %s for %s: %w", sn.IP, sv.Name, err)
		}
	}

	if err := a.backend.RegisterHost(ctx, HostRegistration{
		Serial:      sv.Name,
		Hostname:    sv.Name,
		OSProfile:   "verification",
		PrimaryIP:   sv.PXEIP,
		PrimaryVLAN: mgmtSubnet.VLAN,
		Gateway:     mgmtSubnet.Gateway,
	}); err != nil {
		return fmt.Errorf("register host %s for validation: %w", sv.Name, err)
	}

	if err := a.backend.RestartPXE(ctx, sv.Name); err != nil {
		return fmt.Errorf("restart %s into pxe: %w", sv.Name, err)
	}

	return nil
}

// Orchestrator rotates downstream key material after a host is recreated
// ("invoke orchestrator host_recreated"). Implementations must serialize
// calls themselves; RESTOrchestrator does so with an internal mutex
// (the "dns-rotation" named critical section).
type Orchestrator interface {
	HostRecreated(ctx context.Context, serial string) error
}

// ServerS1S2 implements server_s1_s2(server, rack): register with the
// target OS profile, production as primary gateway, bonded/tagged
// interfaces patched from actual discovered NICs, then rotate key material.
func (a *Adapter) ServerS1S2(ctx context.Context, sv *inventory.Server, rack *inventory.Rack, nm *inventory.NetworkMap, prodSubnet *inventory.Subnet, discoveredIfaces []inventory.InterfaceSpec, orch Orchestrator) error {
	topology := patchTopology(nm.Topology, discoveredIfaces)

	if err := a.backend.RegisterHost(ctx, HostRegistration{
		Serial:      sv.Name,
		Hostname:    sv.Name,
		OSProfile:   sv.OSArgs,
		PrimaryIP:   sv.PXEIP,
		PrimaryVLAN: prodSubnet.VLAN,
		Gateway:     prodSubnet.Gateway,
		Interfaces:  topology,
	}); err != nil {
		return fmt.Errorf("register host %s for provisioning: %w", sv.Name, err)
	}

	if err := a.backend.RestartPXE(ctx, sv.Name); err != nil {
		return fmt.Errorf("restart %s into pxe: %w", sv.Name, err)
	}

	if orch != nil {
		if err := orch.HostRecreated(ctx, sv.Name); err != nil {
			return fmt.Errorf("host_recreated hook for %s: %w", sv.Name, err)
		}
	}

	return nil
}

// patchTopology overlays the NetworkMap's declared topology with the actual
// discovered interface names for bonded/tagged members.
func patchTopology(declared, discovered []inventory.InterfaceSpec) []inventory.InterfaceSpec {
	discoveredByName := make(map[string]inventory.InterfaceSpec, len(discovered))
	for _, d := range discovered {
		discoveredByName[d.Name] = d
	}

	out := make([]inventory.InterfaceSpec, len(declared))

	for i, spec := range declared {
		out[i] = spec

		if d, ok := discoveredByName[spec.Name]; ok && len(d.Interfaces) > 0 {
			out[i].Interfaces = d.Interfaces
		}
	}

	return out
}

// IsProvisioned implements is_provisioned(server, iface): done iff the
// back-end marks build complete AND the host answers SSH on iface's IP.
func (a *Adapter) IsProvisioned(ctx context.Context, sv *inventory.Server, iface *inventory.ServerInterface, sshProbe func(ctx context.Context, ip string) error) (bool, string, error) {
	done, message, err := a.backend.BuildComplete(ctx, sv.Name, iface.Name)
	if err != nil {
		return false, "", err
	}

	if !done {
		return false, message, nil
	}

	if err := sshProbe(ctx, iface.IP); err != nil {
		return false, fmt.Sprintf("build complete, ssh not yet reachable: %v", err), nil
	}

	return true, message, nil
}

// OSList implements os_list(name?).
func (a *Adapter) OSList(ctx context.Context, name string) ([]Profile, error) {
	return a.backend.OSList(ctx, name)
}
