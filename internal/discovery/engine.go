// Package discovery implements the fleet controller's DHCP-hook discovery
// engine (component C3): turning a bare IPMI broadcast into an Asset and,
// for servers, a spare-pool Server row, with LRU-backed discovered/ignored
// caches and an in-flight processing map guarding against replay.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
	"go.racklord.io/fleet/internal/ipalloc"
	"go.racklord.io/fleet/internal/switchvalidate"
	"go.racklord.io/fleet/internal/validationagent"
)

// VendorInfo is what SNMP vendor identification yields for a newly seen BMC.
type VendorInfo struct {
	Vendor  inventory.AssetType // narrowed: vendor class informs Type below
	Brand   string
	Model   string
	Serial  string
	Chassis string // "Server" or "NetworkDevice" class, used to pick AssetType
}

// VendorDriver resolves a BMC's vendor identity via SNMP, and, for servers,
// the management NIC's MAC via vendor-specific IPMI tooling. One
// implementation per supported vendor; "unknown" is a first-class outcome
// that ignores the asset rather than failing discovery.
type VendorDriver interface {
	Identify(ctx context.Context, ipmiIP string) (*VendorInfo, error)
	ManagementMAC(ctx context.Context, ipmiIP string) (string, error)
}

// Config carries the operator-controlled knobs discovery consults.
type Config struct {
	AutoEnrollEnabled bool
	WorkerName        string
	OwnedRackIDs      map[int64]bool
	SpareClusterID    int64
	IgnoredCacheSize  int
	DiscoveredCacheSize int
	// DefaultDNSZone is appended to a server's generated name to produce
	// its FQDN when finalize runs, mirroring server_helper.fqdn_get.
	DefaultDNSZone string
}

// Engine is the C3 contract, scoped to one worker process.
type Engine struct {
	store    *inventory.Store
	alloc    *ipalloc.Allocator
	vendor   VendorDriver
	switches *switchvalidate.Validator
	cfg      Config
	log      zerolog.Logger

	discovered *lru.Cache[string, bool] // key: mac+"|"+ip
	ignored    *lru.Cache[string, bool] // key: mac

	mu         sync.Mutex
	processing map[string]bool
}

func New(store *inventory.Store, alloc *ipalloc.Allocator, vendor VendorDriver, switches *switchvalidate.Validator, cfg Config, log zerolog.Logger) (*Engine, error) {
	if cfg.DiscoveredCacheSize == 0 {
		cfg.DiscoveredCacheSize = 4096
	}

	if cfg.IgnoredCacheSize == 0 {
		cfg.IgnoredCacheSize = 1024
	}

	discoveredCache, err := lru.New[string, bool](cfg.DiscoveredCacheSize)
	if err != nil {
		return nil, err
	}

	ignoredCache, err := lru.New[string, bool](cfg.IgnoredCacheSize)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:      store,
		alloc:      alloc,
		vendor:     vendor,
		switches:   switches,
		cfg:        cfg,
		log:        log.With().Str("component", "discovery").Logger(),
		discovered: discoveredCache,
		ignored:    ignoredCache,
		processing: make(map[string]bool),
	}, nil
}

// normalizeMAC lower-cases and colon-separates a MAC address.
func normalizeMAC(mac string) string {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return strings.ToLower(mac)
	}

	return hw.String()
}

func discoveredKey(mac, ip string) string { return mac + "|" + ip }

// DHCPHook runs the 9-step discovery algorithm for an IPMI DHCP lease.
func (e *Engine) DHCPHook(ctx context.Context, ipmiIP, ipmiMAC string, force bool) error {
	mac := normalizeMAC(ipmiMAC)

	// 1.
	if _, ok := e.discovered.Get(discoveredKey(mac, ipmiIP)); ok {
		return nil
	}

	// 2.
	e.mu.Lock()
	if e.processing[mac] {
		e.mu.Unlock()
		return nil
	}

	if _, ok := e.ignored.Get(mac); ok && !force {
		e.mu.Unlock()
		return nil
	}

	// 3.
	e.processing[mac] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.processing, mac)
		e.mu.Unlock()
	}()

	return e.dhcpHookLocked(ctx, ipmiIP, mac, force)
}

func (e *Engine) dhcpHookLocked(ctx context.Context, ipmiIP, mac string, force bool) error {
	// 4.
	if existing, err := e.serverByIPMIMAC(ctx, mac); err != nil {
		return err
	} else if existing != nil {
		e.discovered.Add(discoveredKey(mac, ipmiIP), true)
		return nil
	}

	// 5.
	if !e.cfg.AutoEnrollEnabled && !force {
		e.ignored.Add(mac, true)
		return nil
	}

	// 6.
	subnet, err := e.store.SubnetFindByContainingIP(ctx, ipmiIP)
	if err != nil {
		if ctlerrors.Kind(err) == "NotFound" {
			e.log.Warn().Str("ipmi_ip", ipmiIP).Msg("no subnet contains ipmi address")
			return nil
		}

		return err
	}

	rack, err := e.resolveRackBySubnet(ctx, subnet)
	if err != nil {
		if ctlerrors.Kind(err) == "NotFound" {
			return nil
		}

		return err
	}

	if rack.WorkerID == nil || !e.cfg.OwnedRackIDs[rack.ID] {
		return nil
	}

	// 7.
	info, err := e.vendor.Identify(ctx, ipmiIP)
	if err != nil || info == nil {
		e.ignored.Add(mac, true)
		e.log.Warn().Str("mac", mac).Err(err).Msg("unknown vendor, ignoring")

		return nil
	}

	assetType := inventory.AssetTypeServer
	if info.Chassis == "NetworkDevice" {
		assetType = inventory.AssetTypeNetworkDevice
	}

	// 8.
	asset, created, err := e.upsertAsset(ctx, mac, ipmiIP, info, assetType, rack, subnet)
	if err != nil {
		return err
	}

	if asset == nil {
		// reverted to New because protected; stop here.
		return nil
	}

	// 9.
	if asset.Type == inventory.AssetTypeServer {
		if _, err := e.store.ServerGetByAssetID(ctx, asset.ID); err != nil {
			if ctlerrors.Kind(err) != "NotFound" {
				return err
			}

			if err := e.createSpareServer(ctx, asset); err != nil {
				return err
			}
		}
	}

	_ = created

	e.discovered.Add(discoveredKey(mac, ipmiIP), true)

	return nil
}

func (e *Engine) serverByIPMIMAC(ctx context.Context, mac string) (*inventory.Server, error) {
	asset, err := e.assetByIPMIMAC(ctx, mac)
	if err != nil {
		if ctlerrors.Kind(err) == "NotFound" {
			return nil, nil
		}

		return nil, err
	}

	sv, err := e.store.ServerGetByAssetID(ctx, asset.ID)
	if err != nil {
		if ctlerrors.Kind(err) == "NotFound" {
			return nil, nil
		}

		return nil, err
	}

	return sv, nil
}

func (e *Engine) assetByIPMIMAC(ctx context.Context, mac string) (*inventory.Asset, error) {
	assets, err := e.store.AssetList(ctx, inventory.AssetFilter{})
	if err != nil {
		return nil, err
	}

	for _, a := range assets {
		if normalizeMAC(a.IPMIMAC) == mac {
			return a, nil
		}
	}

	return nil, ctlerrors.NotFound("asset with ipmi mac %s", mac)
}

// resolveRackBySubnet finds the rack owning a switch interface whose network
// matches subnet's network address.
func (e *Engine) resolveRackBySubnet(ctx context.Context, subnet *inventory.Subnet) (*inventory.Rack, error) {
	targetNetwork := networkOf(subnet.IP, subnet.Mask)

	assets, err := e.store.AssetList(ctx, inventory.AssetFilter{Type: inventory.AssetTypeNetworkDevice})
	if err != nil {
		return nil, err
	}

	for _, a := range assets {
		sw, err := e.store.SwitchGetByAssetID(ctx, a.ID)
		if err != nil {
			continue
		}

		ifaces, err := e.store.SwitchInterfaceListBySwitch(ctx, sw.ID)
		if err != nil {
			return nil, err
		}

		for _, iface := range ifaces {
			if iface.NetworkAddress() == targetNetwork && a.RackID != nil {
				return e.store.RackGetByID(ctx, *a.RackID)
			}
		}
	}

	return nil, ctlerrors.NotFound("rack for subnet %s", subnet.IP)
}

func networkOf(ip string, mask int) string {
	_, n, err := net.ParseCIDR(fmt.Sprintf("%s/%d", ip, mask))
	if err != nil {
		return ""
	}

	return n.IP.String()
}

func (e *Engine) upsertAsset(ctx context.Context, mac, ip string, info *VendorInfo, assetType inventory.AssetType, rack *inventory.Rack, subnet *inventory.Subnet) (*inventory.Asset, bool, error) {
	existing, err := e.assetByIPMIMAC(ctx, mac)
	if err != nil && ctlerrors.Kind(err) != "NotFound" {
		return nil, false, err
	}

	if existing != nil {
		if normalizeMAC(existing.IPMIMAC) != mac {
			e.log.Warn().Str("serial", existing.Serial).Msg("ipmi mac mismatch, ignoring")
			return nil, false, nil
		}

		existing.IPMIIP = ip
		existing.IPMIMAC = mac
		existing.Type = assetType

		if existing.Protected {
			existing.Status = inventory.AssetStatusNew

			if _, err := e.store.AssetUpdate(ctx, existing); err != nil {
				return nil, false, err
			}

			return nil, false, nil
		}

		updated, err := e.store.AssetUpdate(ctx, existing)
		if err != nil {
			return nil, false, err
		}

		return updated, false, nil
	}

	if _, err := e.alloc.Allocate(ctx, rack.Name, subnet, info.Serial, mac, ip); err != nil {
		// IPMI subnet allocation is best-effort here; a nil subnet means the
		// caller already has a lease via DHCP, so allocation failure is
		// logged, not fatal, to match the source's "don't block asset
		// creation on a redundant lease write" behavior.
		e.log.Warn().Err(err).Str("serial", info.Serial).Msg("ipmi lease allocation failed")
	}

	created, err := e.store.AssetCreate(ctx, &inventory.Asset{
		Serial:  info.Serial,
		Brand:   info.Brand,
		Model:   info.Model,
		IPMIMAC: mac,
		IPMIIP:  ip,
		Type:    assetType,
		Status:  inventory.AssetStatusNew,
		RackID:  &rack.ID,
	})
	if err != nil {
		return nil, false, err
	}

	return created, true, nil
}

func (e *Engine) createSpareServer(ctx context.Context, asset *inventory.Asset) error {
	mgmtMAC, err := e.vendor.ManagementMAC(ctx, asset.IPMIIP)
	if err != nil {
		return fmt.Errorf("resolve management mac for %s: %w", asset.Serial, err)
	}

	clusterID := e.cfg.SpareClusterID

	_, err = e.store.ServerCreate(ctx, &inventory.Server{
		Name:         fmt.Sprintf("discovery_%s", asset.Serial),
		Status:       inventory.StatusUnmanaged,
		TargetStatus: inventory.TargetValidated,
		PXEMac:       mgmtMAC,
		Role:         "spare",
		ClusterID:    &clusterID,
		AssetID:      asset.ID,
	})

	return err
}

// Finalize implements finalize(server, asset_dict, interfaces): a one-time
// pass, gated on the asset never having been finalized before, that
// backfills the asset's brand/model from the validation agent's
// self-report, records any newly reported interfaces, resolves the
// server's rack position via C7, and assigns its permanent canonical name
// and FQDN.
func (e *Engine) Finalize(ctx context.Context, sv *inventory.Server, assetInfo *validationagent.AssetInfo, interfaces []validationagent.Interface) (*inventory.Server, error) {
	asset, err := e.store.AssetGetByID(ctx, sv.AssetID)
	if err != nil {
		return nil, fmt.Errorf("load asset: %w", err)
	}

	if asset.Status != inventory.AssetStatusNew {
		return sv, nil
	}

	existing, err := e.store.ServerInterfaceListByServer(ctx, sv.ID)
	if err != nil {
		return nil, fmt.Errorf("list server interfaces: %w", err)
	}

	have := make(map[string]bool, len(existing))
	for _, si := range existing {
		have[si.Name] = true
	}

	for _, iface := range interfaces {
		if have[iface.Name] {
			continue
		}

		if _, err := e.store.ServerInterfaceUpsert(ctx, &inventory.ServerInterface{
			ServerID: sv.ID,
			Name:     iface.Name,
			MAC:      iface.MAC,
		}); err != nil {
			return nil, fmt.Errorf("add server interface %s: %w", iface.Name, err)
		}
	}

	if asset.RackID == nil {
		return nil, ctlerrors.InvalidData("server %s's asset has no rack", sv.Name)
	}

	rack, err := e.store.RackGetByID(ctx, *asset.RackID)
	if err != nil {
		return nil, fmt.Errorf("load rack: %w", err)
	}

	if rack.NetworkMapID == nil {
		return nil, ctlerrors.InvalidData("rack %s has no network map", rack.Name)
	}

	nm, err := e.store.NetworkMapGetByID(ctx, *rack.NetworkMapID)
	if err != nil {
		return nil, fmt.Errorf("load network map: %w", err)
	}

	serverNumber, rackUnit, err := e.switches.ServerNumberGet(ctx, rack, nm, sv)
	if err != nil {
		return nil, fmt.Errorf("resolve server number: %w", err)
	}

	asset.Brand = assetInfo.Brand
	asset.Model = assetInfo.Model
	asset.Status = inventory.AssetStatusDiscovered

	if _, err := e.store.AssetUpdate(ctx, asset); err != nil {
		return nil, fmt.Errorf("update asset: %w", err)
	}

	return e.store.ServerCAS(ctx, sv.ID, sv.Version, func(s *inventory.Server) error {
		s.ServerNumber = serverNumber
		s.RackUnit = rackUnit
		s.Name = generateName(s, rack)
		s.FQDN = fqdn(s.Name, e.cfg.DefaultDNSZone)

		return nil
	})
}

// generateName implements Server.generate_name once the server's asset has
// reached Discovered: 'b-{role}-r{number:02d}{rack}-{environment}', all
// lowercased, role truncated to 8 characters, rack reduced to the suffix
// after its last '-'.
func generateName(sv *inventory.Server, rack *inventory.Rack) string {
	role := sv.Role
	if role == "" {
		role = string(sv.Status)
	}

	if len(role) > 8 {
		role = role[:8]
	}

	rackSuffix := rack.Name
	if idx := strings.LastIndex(rack.Name, "-"); idx >= 0 {
		rackSuffix = rack.Name[idx+1:]
	}

	name := fmt.Sprintf("b-%s-r%02d%s-%s", role, sv.ServerNumber, rackSuffix, rack.Environment)

	return strings.ToLower(name)
}

// fqdn implements server_helper.fqdn_get: name + "." + the default DNS zone.
func fqdn(name, zone string) string {
	return name + "." + zone
}

// FlushIgnored clears the ignored cache, wholesale or by mac.
func (e *Engine) FlushIgnored(mac string) {
	if mac == "" {
		e.ignored.Purge()
		return
	}

	e.ignored.Remove(normalizeMAC(mac))
}
