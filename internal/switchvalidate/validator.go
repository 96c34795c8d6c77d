// Package switchvalidate implements the fleet controller's switch validator
// (component C7): feature/service-port/L3/VLAN checks across a rack's
// switches, per-server LACP validation, server-number resolution from the
// rack's declarative NetworkMap, and new-switch discovery metadata.
package switchvalidate

import (
	"context"
	"fmt"
	"sync"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
)

// SwitchClient is the vendor-neutral switch access surface; one
// implementation per supported switch OS.
type SwitchClient interface {
	CheckFeatures(ctx context.Context, sw *inventory.Switch) error
	CheckServicePorts(ctx context.Context, sw *inventory.Switch) error
	CheckVirtualL3(ctx context.Context, sw *inventory.Switch) error
	CheckVLANs(ctx context.Context, sw *inventory.Switch, nm *inventory.NetworkMap) error
	CheckLACP(ctx context.Context, sw *inventory.Switch, serverPXEMAC string) error
	CheckMgmtServicePort(ctx context.Context, sw *inventory.Switch, serverPXEMAC string) error
	FindPortByMAC(ctx context.Context, sw *inventory.Switch, mac string) (switchName string, port int, err error)
	Discover(ctx context.Context, hostname, ip string) (*DiscoveredSwitch, error)
}

// DiscoveredSwitch is switch_discover's result, used by C8 to insert an
// Asset + NetworkDevice skeleton.
type DiscoveredSwitch struct {
	Brand      string
	Model      string
	Serial     string
	Interfaces []inventory.InterfaceSpec
	RackName   string
}

// Validator caches per-rack validation results since a rack already
// Validated short-circuits repeat runs.
type Validator struct {
	store  *inventory.Store
	client SwitchClient

	mu          sync.Mutex
	rackResults map[int64]inventory.Status
}

func New(store *inventory.Store, client SwitchClient) *Validator {
	return &Validator{store: store, client: client, rackResults: make(map[int64]inventory.Status)}
}

// ValidateForRack implements switch_validate_for_rack(rack). Missing BMC
// MAC warnings are informational and never fail the rack.
func (v *Validator) ValidateForRack(ctx context.Context, rack *inventory.Rack) (inventory.Status, string, error) {
	v.mu.Lock()
	if cached, ok := v.rackResults[rack.ID]; ok && cached == inventory.StatusValidated {
		v.mu.Unlock()
		return inventory.StatusValidated, "cached", nil
	}
	v.mu.Unlock()

	assets, err := v.store.AssetList(ctx, inventory.AssetFilter{RackName: rack.Name, Type: inventory.AssetTypeNetworkDevice})
	if err != nil {
		return inventory.StatusUnknown, "", err
	}

	var warnings []string

	for _, a := range assets {
		sw, err := v.store.SwitchGetByAssetID(ctx, a.ID)
		if err != nil {
			return inventory.StatusUnknown, "", err
		}

		if err := v.client.CheckFeatures(ctx, sw); err != nil {
			return inventory.StatusValidatedWithErrors, fmt.Sprintf("switch %s: feature check failed: %v", sw.Name, err), nil
		}

		if err := v.client.CheckServicePorts(ctx, sw); err != nil {
			return inventory.StatusValidatedWithErrors, fmt.Sprintf("switch %s: service port check failed: %v", sw.Name, err), nil
		}

		if err := v.client.CheckVirtualL3(ctx, sw); err != nil {
			return inventory.StatusValidatedWithErrors, fmt.Sprintf("switch %s: virtual L3 check failed: %v", sw.Name, err), nil
		}

		nm, err := v.networkMapForRack(ctx, rack)
		if err != nil {
			return inventory.StatusUnknown, "", err
		}

		if err := v.client.CheckVLANs(ctx, sw, nm); err != nil {
			return inventory.StatusValidatedWithErrors, fmt.Sprintf("switch %s: vlan check failed: %v", sw.Name, err), nil
		}

		if a.IPMIMAC == "" {
			warnings = append(warnings, fmt.Sprintf("switch %s: missing BMC mac", sw.Name))
		}
	}

	v.mu.Lock()
	v.rackResults[rack.ID] = inventory.StatusValidated
	v.mu.Unlock()

	message := "ok"
	if len(warnings) > 0 {
		message = fmt.Sprintf("%d informational warning(s)", len(warnings))
	}

	return inventory.StatusValidated, message, nil
}

func (v *Validator) networkMapForRack(ctx context.Context, rack *inventory.Rack) (*inventory.NetworkMap, error) {
	if rack.NetworkMapID == nil {
		return nil, ctlerrors.InvalidData("rack %s has no network map", rack.Name)
	}

	return v.store.NetworkMapGetByID(ctx, *rack.NetworkMapID)
}

// ValidateForServer implements switch_validate_for_server(rack, net,
// server): any failure here prevents S1→S2.
func (v *Validator) ValidateForServer(ctx context.Context, rack *inventory.Rack, sw *inventory.Switch, sv *inventory.Server) error {
	if err := v.client.CheckLACP(ctx, sw, sv.PXEMac); err != nil {
		return fmt.Errorf("lacp validation for server %s: %w", sv.Name, err)
	}

	if err := v.client.CheckMgmtServicePort(ctx, sw, sv.PXEMac); err != nil {
		return fmt.Errorf("mgmt service-port validation for server %s: %w", sv.Name, err)
	}

	return nil
}

// ServerNumberGet implements server_number_get(rack, net_map, server):
// resolve the PXE MAC to (switch-name, port), parse the switch index from
// the switch name's trailing digits, apply mgmt_port_map to get a server number,
// then number2unit for the rack unit.
func (v *Validator) ServerNumberGet(ctx context.Context, rack *inventory.Rack, nm *inventory.NetworkMap, sv *inventory.Server) (serverNumber, rackUnit int, err error) {
	assets, err := v.store.AssetList(ctx, inventory.AssetFilter{RackName: rack.Name, Type: inventory.AssetTypeNetworkDevice})
	if err != nil {
		return 0, 0, err
	}

	var (
		switchName string
		port       int
		found      bool
	)

	for _, a := range assets {
		sw, err := v.store.SwitchGetByAssetID(ctx, a.ID)
		if err != nil {
			return 0, 0, err
		}

		name, p, err := v.client.FindPortByMAC(ctx, sw, sv.PXEMac)
		if err != nil {
			continue
		}

		switchName, port, found = name, p, true

		break
	}

	if !found {
		return 0, 0, ctlerrors.NotFound("no switch port found for server %s pxe mac %s", sv.Name, sv.PXEMac)
	}

	switchIndex, err := parseSwitchIndex(switchName)
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range nm.MgmtPortMap {
		if entry.SwitchIndex == switchIndex && entry.PortNo == port {
			serverNumber = entry.ServerNumber

			for _, unitEntry := range nm.Number2Unit {
				if unitEntry.ServerNumber == serverNumber {
					return serverNumber, unitEntry.RackUnit, nil
				}
			}

			return 0, 0, ctlerrors.InvalidData("network map %s has no rack unit for server number %d", nm.Name, serverNumber)
		}
	}

	return 0, 0, ctlerrors.NotFound("network map %s has no mgmt_port_map entry for switch %d port %d", nm.Name, switchIndex, port)
}

// parseSwitchIndex extracts the numeric switch index from a switch name
// like "tor-2" or "leaf2", the source's naming convention for identifying
// which of a rack's (usually paired) top-of-rack switches a port belongs to.
func parseSwitchIndex(switchName string) (int, error) {
	var digits string

	for i := len(switchName) - 1; i >= 0; i-- {
		c := switchName[i]
		if c < '0' || c > '9' {
			break
		}

		digits = string(c) + digits
	}

	if digits == "" {
		return 0, ctlerrors.InvalidData("switch name %q has no trailing index", switchName)
	}

	index := 0
	for _, c := range digits {
		index = index*10 + int(c-'0')
	}

	return index, nil
}

// SwitchDiscover implements switch_discover(hostname, ip).
func (v *Validator) SwitchDiscover(ctx context.Context, hostname, ip string) (*DiscoveredSwitch, error) {
	return v.client.Discover(ctx, hostname, ip)
}
