// Copyright (c) 2026 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package daemon

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const configTemplateName = "config.yaml.tmpl"

//go:embed config.yaml.tmpl
var configFS embed.FS

var configTmpl = template.Must(
	template.New(configTemplateName).
		Funcs(template.FuncMap{
			"join": filepath.Join,
		}).
		ParseFS(configFS, configTemplateName),
)

// configOptions is the set of values rendered into the config template when
// a fresh config file is generated for a newly-started worker or
// coordinator.
type configOptions struct {
	Location string
	DBURL    string
	Port     int
}

// generateConfig renders the default config template to file and returns
// the parsed Config.
func generateConfig(fs afero.Fs, file string, opts configOptions) (*Config, error) {
	var buf bytes.Buffer

	if err := configTmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}

	if err := afero.WriteFile(fs, file, buf.Bytes(), 0o640); err != nil {
		return nil, fmt.Errorf("writing config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(buf.Bytes(), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// loadConfig loads config from disk and returns the parsed Config.
func loadConfig(fs afero.Fs, file string) (*Config, error) {
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// NewDefaults renders a fresh config file at path with the given seed
// values (used by the daemons' `init` subcommand and by Load on first run).
func NewDefaults(fs afero.Fs, path string, location, dbURL string, port int) (*Config, error) {
	return generateConfig(fs, path, configOptions{Location: location, DBURL: dbURL, Port: port})
}

// Load reads and parses the config file at path, generating spec-default
// values first if it doesn't exist yet.
func Load(fs afero.Fs, path string) (*Config, error) {
	if exists, err := afero.Exists(fs, path); err != nil {
		return nil, err
	} else if !exists {
		return NewDefaults(fs, path, "", "", 0)
	}

	return loadConfig(fs, path)
}

// Config is the fleet controller's configuration surface, grouped by
// section ("INI-style options grouped by section"). The
// sections are rendered as top-level YAML mappings rather than literal INI
// syntax, keeping the dotted section.option naming convention as the
// (section, option) pair each field belongs to.
type Config struct {
	Common     CommonConfig     `yaml:"common"`
	Master     MasterConfig     `yaml:"master"`
	Worker     WorkerConfig     `yaml:"worker"`
	DHCP       DHCPConfig       `yaml:"dhcp"`
	OpenStack  OpenStackConfig  `yaml:"openstack"`
	SwitchConf SwitchConfConfig `yaml:"switchconf"`
}

// CommonConfig holds options shared by every process (common.*).
type CommonConfig struct {
	// Location is the datacenter/location label every rack, asset, and
	// server row is scoped to.
	Location string `yaml:"location"`
	// DBURL is the inventory database DSN.
	DBURL string `yaml:"db_url"`
	// LogLevel is one of zerolog's level names (trace/debug/info/.../panic).
	LogLevel string `yaml:"log_level"`
}

// MasterConfig holds coordinator-only options (master.*).
type MasterConfig struct {
	// Port is the coordinator's RPC listen port.
	Port int `yaml:"port"`
}

// WorkerConfig holds worker-only options (worker.*).
type WorkerConfig struct {
	// Name is this worker's registration name, upserted by (name, location).
	Name string `yaml:"name"`
	// Port is the worker's RPC listen port.
	Port int `yaml:"port"`
	// Endpoint is this worker's own "host:port", as registered with the
	// coordinator so it knows where to forward rack-scoped commands.
	Endpoint string `yaml:"endpoint"`
	// CoordinatorEndpoint is the coordinator's "host:port" this worker
	// registers itself against on startup.
	CoordinatorEndpoint string `yaml:"coordinator_endpoint"`
	// FQDNNet names the subnet whose zone supplies a server's FQDN.
	FQDNNet string `yaml:"fqdn_net"`
	// ValidationPort is the in-band validation HTTP port (spec default 5000).
	ValidationPort int `yaml:"validation_port"`
	// DefaultDNSZone is appended to a server's name when no FQDNNet subnet
	// resolves one.
	DefaultDNSZone string `yaml:"default_dns_zone"`
	// Net2VLAN maps a NetworkMap interface name (e.g. "mgmt", "production")
	// to the VLAN tag of the subnet realizing it in this worker's racks.
	Net2VLAN map[string]int `yaml:"net2vlan"`
	// DiscoveryDisabled turns off DHCP-hook-driven auto-enrollment for this
	// worker's racks while still allowing existing servers to progress.
	DiscoveryDisabled bool `yaml:"discovery_disabled"`
	// SpareCluster is the cluster name newly-discovered servers join.
	SpareCluster string `yaml:"spare_cluster"`
}

// DHCPConfig holds IP-allocator tuning options (dhcp.*).
type DHCPConfig struct {
	// FirstIPOffset is parsed from dhcp.first_ip_offset. ipalloc.Allocator
	// does not read it: the lower bound is the subnet's FirstIP, or the
	// network address + 1.
	FirstIPOffset int `yaml:"first_ip_offset"`
	// LastIPOffset is parsed from dhcp.last_ip_offset. ipalloc.Allocator
	// does not read it: the upper bound is always the broadcast address
	// plus ipalloc.DefaultLastOffset (-3).
	LastIPOffset int `yaml:"last_ip_offset"`
	// Driver names the downstream DHCP server plugin reloaded after every
	// allocation change (e.g. "isc-dhcp", "kea").
	Driver string `yaml:"driver"`
}

// OpenStackConfig holds the OpenStack provisioning back-end's credentials
// (openstack.*), one of several back-end-specific URL/credential blocks
// a back-end may require.
type OpenStackConfig struct {
	AuthURL  string `yaml:"auth_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Project  string `yaml:"project"`
	Region   string `yaml:"region"`
}

// SwitchConfConfig toggles top-of-rack switch validation (switchconf.*).
type SwitchConfConfig struct {
	Enabled bool `yaml:"enabled"`
}
