// Package stagestart implements the serverfsm.Starter used by a worker for
// its own owned racks: "start" fires C6 (provisioning adapter) directly,
// in-process, since the worker driving the transition already owns the
// rack. The RPC hop to "the rack's worker" happens
// one level up, when the coordinator (C8) forwards an operator's
// rack_trigger call to this worker over the wire (see internal/coordinator);
// from there the worker's own serverfsm.Machine, wired with this Starter,
// drives the transition without a second RPC round trip to itself.
package stagestart

import (
	"context"
	"fmt"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/provision"
)

// Config resolves a NetworkMap's named interfaces to concrete subnets via
// the worker.net2vlan config option: interface name -> vlan tag.
type Config struct {
	Net2VLAN map[string]int
	MgmtNet  string // interface name designating the management network, default "mgmt"
}

// Starter adapts provision.Adapter into serverfsm.Starter for a worker's
// own owned racks.
type Starter struct {
	store   *inventory.Store
	adapter *provision.Adapter
	orch    provision.Orchestrator
	cfg     Config
}

func New(store *inventory.Store, adapter *provision.Adapter, orch provision.Orchestrator, cfg Config) *Starter {
	if cfg.MgmtNet == "" {
		cfg.MgmtNet = "mgmt"
	}

	return &Starter{store: store, adapter: adapter, orch: orch, cfg: cfg}
}

// StartValidation implements server_s0_s1's call site: resolve the rack and
// its management subnet, then register and PXE-restart into the
// verification profile.
func (s *Starter) StartValidation(ctx context.Context, sv *inventory.Server) error {
	rack, nm, err := s.rackAndNetworkMap(ctx, sv)
	if err != nil {
		return err
	}

	mgmt, err := s.subnetForInterface(ctx, rack, s.cfg.MgmtNet)
	if err != nil {
		return fmt.Errorf("resolve mgmt subnet for rack %s: %w", rack.Name, err)
	}

	return s.adapter.ServerS0S1(ctx, sv, rack, nm, mgmt)
}

// StartProvisioning implements server_s1_s2's call site: resolve the rack,
// network map, and the server's target (production) subnet from its
// GatewayNet, patch the declared topology with discovered interfaces, then
// register into the target OS profile.
func (s *Starter) StartProvisioning(ctx context.Context, sv *inventory.Server) error {
	rack, nm, err := s.rackAndNetworkMap(ctx, sv)
	if err != nil {
		return err
	}

	netName := sv.GatewayNet
	if netName == "" {
		netName = "production"
	}

	prod, err := s.subnetForInterface(ctx, rack, netName)
	if err != nil {
		return fmt.Errorf("resolve production subnet for rack %s: %w", rack.Name, err)
	}

	ifaces, err := s.store.ServerInterfaceListByServer(ctx, sv.ID)
	if err != nil {
		return fmt.Errorf("list interfaces for server %s: %w", sv.Name, err)
	}

	discovered := make([]inventory.InterfaceSpec, 0, len(ifaces))
	for _, iface := range ifaces {
		discovered = append(discovered, inventory.InterfaceSpec{Name: iface.Name})
	}

	return s.adapter.ServerS1S2(ctx, sv, rack, nm, prod, discovered, s.orch)
}

func (s *Starter) rackAndNetworkMap(ctx context.Context, sv *inventory.Server) (*inventory.Rack, *inventory.NetworkMap, error) {
	asset, err := s.store.AssetGetByID(ctx, sv.AssetID)
	if err != nil {
		return nil, nil, fmt.Errorf("load asset for server %s: %w", sv.Name, err)
	}

	if asset.RackID == nil {
		return nil, nil, ctlerrors.InvalidData("server %s's asset has no rack", sv.Name)
	}

	rack, err := s.store.RackGetByID(ctx, *asset.RackID)
	if err != nil {
		return nil, nil, fmt.Errorf("load rack for server %s: %w", sv.Name, err)
	}

	if rack.NetworkMapID == nil {
		return nil, nil, ctlerrors.InvalidData("rack %s has no network map", rack.Name)
	}

	nm, err := s.store.NetworkMapGetByID(ctx, *rack.NetworkMapID)
	if err != nil {
		return nil, nil, fmt.Errorf("load network map for rack %s: %w", rack.Name, err)
	}

	return rack, nm, nil
}

// subnetForInterface resolves name through Net2VLAN and matches the first
// subnet for rack.Location on that vlan.
func (s *Starter) subnetForInterface(ctx context.Context, rack *inventory.Rack, name string) (*inventory.Subnet, error) {
	vlan, ok := s.cfg.Net2VLAN[name]
	if !ok {
		return nil, ctlerrors.NotFound("no vlan configured for network %q", name)
	}

	subnets, err := s.store.SubnetListByLocation(ctx, rack.Location)
	if err != nil {
		return nil, err
	}

	for _, sn := range subnets {
		if sn.VLAN == vlan {
			return sn, nil
		}
	}

	return nil, ctlerrors.NotFound("no subnet on vlan %d in location %s", vlan, rack.Location)
}
