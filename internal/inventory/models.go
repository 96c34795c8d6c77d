// Package inventory implements the fleet controller's durable relational
// state: racks, assets, servers, interfaces, subnets, ports, clusters, SKUs,
// workers, and the change log (component C1). Every persisted entity carries
// created_at/updated_at/deleted_at/deleted/key/id the way the source schema
// does; optimistic concurrency on Server is enforced at the version column.
package inventory

import (
	"encoding/json"
	"time"
)

// Status is a server's lifecycle stage. Ordering matters: see Index().
type Status string

const (
	StatusUnknown             Status = "Unknown"
	StatusUnmanaged           Status = "Unmanaged"
	StatusValidating          Status = "Validating"
	StatusValidatedWithErrors Status = "ValidatedWithErrors"
	StatusValidated           Status = "Validated"
	StatusProvisioning        Status = "Provisioning"
	StatusProvisionedWithErrors Status = "ProvisionedWithErrors"
	StatusProvisioned         Status = "Provisioned"
	StatusDeploying           Status = "Deploying"
	StatusDeployed            Status = "Deployed"
)

// statusOrder is the server lifecycle's total order. Deploying and
// Deployed exist for operator-only bookkeeping (Open Question resolved as
// option (a) in SPEC_FULL.md) and are placed after Provisioned so that any
// accidental comparison against them never looks like regression.
var statusOrder = []Status{
	StatusUnknown,
	StatusUnmanaged,
	StatusValidating,
	StatusValidatedWithErrors,
	StatusValidated,
	StatusProvisioning,
	StatusProvisionedWithErrors,
	StatusProvisioned,
	StatusDeploying,
	StatusDeployed,
}

// Index returns the position of s in the total order, or -1 if s is not a
// recognized status.
func (s Status) Index() int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}

	return -1
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	return s.Index() >= 0
}

// TargetStatus is the restricted subset of Status an operator may aim a
// server at.
type TargetStatus string

const (
	TargetUnmanaged  TargetStatus = TargetStatus(StatusUnmanaged)
	TargetValidated  TargetStatus = TargetStatus(StatusValidated)
	TargetProvisioned TargetStatus = TargetStatus(StatusProvisioned)
	TargetDeployed   TargetStatus = TargetStatus(StatusDeployed)
)

// Valid reports whether t is one of the four allowed target statuses.
func (t TargetStatus) Valid() bool {
	switch t {
	case TargetUnmanaged, TargetValidated, TargetProvisioned, TargetDeployed:
		return true
	default:
		return false
	}
}

// Index returns t's position in the shared status total order.
func (t TargetStatus) Index() int {
	return Status(t).Index()
}

// AssetType classifies a physical asset.
type AssetType string

const (
	AssetTypeServer        AssetType = "Server"
	AssetTypeChassis       AssetType = "Chassis"
	AssetTypeNetworkDevice AssetType = "NetworkDevice"
)

// AssetStatus tracks an asset's discovery lifecycle.
type AssetStatus string

const (
	AssetStatusNew               AssetStatus = "New"
	AssetStatusDiscovered        AssetStatus = "Discovered"
	AssetStatusDiscoveryMismatch AssetStatus = "DiscoveryMismatch"
	AssetStatusDecommissioned    AssetStatus = "Decommissioned"
)

// Base holds the columns every persisted table carries.
type Base struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	Key       string
	ID        int64
	Deleted   int64
}

// Rack is a physical rack of servers in a location, owned (for routing
// purposes only) by at most one Worker.
type Rack struct {
	Base
	Name          string
	Location      string
	Status        string
	GatewayIP     string
	Environment   string
	SKUQuota      int
	WorkerID      *int64
	NetworkMapID  *int64
	Meta          RackMeta
}

// RackMeta is the typed JSON column replacing a free-form dict, marshaled
// on commit rather than read/written as raw JSON on every attribute access.
type RackMeta struct {
	Maintenance bool `json:"maintenance"`
}

func (m RackMeta) MarshalJSONColumn() ([]byte, error) { return json.Marshal(m) }

// Worker registers itself on start, upserting by (name, location).
type Worker struct {
	Base
	Name     string
	Location string
	Endpoint string
}

// PortMapEntry maps a (switch_index, port_no) pair to a server number. It
// replaces a string-evaluated `mgmt_port_map` expression with a declarative
// table, looked up linearly rather than eval'd.
type PortMapEntry struct {
	SwitchIndex  int
	PortNo       int
	ServerNumber int
}

// UnitMapEntry maps a server number to its rack unit, replacing the source's
// evaluated `number2unit` expression.
type UnitMapEntry struct {
	ServerNumber int
	RackUnit     int
}

// InterfaceSpec describes one physical/bonded/vlan interface in a
// NetworkMap's network topology.
type InterfaceSpec struct {
	Name       string   `json:"name"`
	VLAN       int      `json:"vlan,omitempty"`
	Bonded     bool     `json:"bonded,omitempty"`
	Tagged     bool     `json:"tagged,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"` // member NICs, for a bond
}

// NetworkMap is a rack's declarative physical network description. It is
// immutable once a rack in production references it.
type NetworkMap struct {
	Base
	Name        string
	PXENIC      string
	MgmtPortMap []PortMapEntry
	Number2Unit []UnitMapEntry
	Topology    []InterfaceSpec
}

// Subnet belongs (indirectly, via switch interfaces) to a rack.
type Subnet struct {
	Base
	Location     string
	IP           string
	Mask         int
	VLAN         int
	Gateway      string
	Tagged       bool
	FirstIP      string
}

// Asset is a server or switch's physical identity.
type Asset struct {
	Base
	Serial    string
	Brand     string
	Model     string
	IPMIMAC   string
	IPMIIP    string
	Type      AssetType
	Status    AssetStatus
	Protected bool
	RackID    *int64
}

// ServerMeta is the typed JSON column replacing the source's free-form
// server.meta dict.
type ServerMeta struct {
	Ironicated  bool `json:"ironicated"`
	Maintenance bool `json:"maintenance"`
}

// Server is a logical role bound to an Asset.
type Server struct {
	Base
	Name         string
	Status       Status
	TargetStatus TargetStatus
	PXEMac       string
	PXEIP        string
	Role         string
	FQDN         string
	ServerNumber int
	RackUnit     int
	HDDType      string
	OSArgs       string
	GatewayNet   string
	LockID       string
	Initiator    string
	Message      string
	Meta         ServerMeta
	Version      int64
	ClusterID    *int64
	SKUID        *int64
	AssetID      int64
}

// MaxMessageBytes bounds Server.Message.
const MaxMessageBytes = 253

// TruncateMessage truncates msg to MaxMessageBytes, keeping the tail (the
// source keeps message[-253:], i.e. the most recent context).
func TruncateMessage(msg string) string {
	if len(msg) <= MaxMessageBytes {
		return msg
	}

	return msg[len(msg)-MaxMessageBytes:]
}

// ServerInterface is an in-band NIC on a Server.
type ServerInterface struct {
	Base
	ServerID int64
	Name     string
	MAC      string
	IP       string
	Netmask  string
	Gateway  string
}

// NetworkAddress derives the network address from IP and Netmask.
func (si ServerInterface) NetworkAddress() string {
	return networkAddress(si.IP, si.Netmask)
}

// Switch is a top-of-rack device.
type Switch struct {
	Base
	AssetID int64
	Name    string
}

// SwitchInterface is a port on a Switch.
type SwitchInterface struct {
	Base
	SwitchID int64
	Name     string
	MAC      string
	IP       string
	Netmask  string
	Gateway  string
}

// NetworkAddress derives the network address from IP and Netmask.
func (si SwitchInterface) NetworkAddress() string {
	return networkAddress(si.IP, si.Netmask)
}

// Port is a DHCP lease record (not a switch port), unique by IP.
type Port struct {
	Base
	RackName string
	DeviceID string // == Asset.Serial
	VLANTag  int
	IP       string
	MAC      string
	SubnetID int64
}

// Cluster groups servers logically; "spare-pool" receives discovered ones.
type Cluster struct {
	Base
	Name     string
	Type     string
	Location string
}

// SKU is a catalog entry matched by exact string equality during validation.
type SKU struct {
	Base
	Name    string
	CPU     string
	RAM     string
	Storage string
}

// ChangeLog is an append-only audit record.
type ChangeLog struct {
	Base
	ObjectType string
	ObjectID   int64
	Before     string // JSON
	After      string // JSON
}
