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
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGenerateConfigDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "config.yaml"

	cfg, err := generateConfig(fs, path, configOptions{
		Location: "dc1",
		DBURL:    "postgres://fleet@db/fleet",
		Port:     9000,
	})
	require.NoError(t, err)

	expected := &Config{
		Common: CommonConfig{Location: "dc1", DBURL: "postgres://fleet@db/fleet", LogLevel: "info"},
		Master: MasterConfig{Port: 9000},
		Worker: WorkerConfig{
			ValidationPort: 5000,
			Net2VLAN:       map[string]int{},
			SpareCluster:   "spare-pool",
		},
		DHCP: DHCPConfig{
			FirstIPOffset: 10,
			LastIPOffset:  -3,
		},
		SwitchConf: SwitchConfConfig{Enabled: true},
	}

	require.Equal(t, expected, cfg)

	loaded, err := loadConfig(fs, path)
	require.NoError(t, err)
	require.Equal(t, expected, loaded)
}

func TestConfigParsesWorkerAndDHCPSections(t *testing.T) {
	raw := []byte(`
common:
  location: dc2
  db_url: postgres://fleet@db/fleet
master:
  port: 9001
worker:
  name: w1
  port: 9100
  fqdn_net: production
  validation_port: 5000
  default_dns_zone: dc2.example.com
  net2vlan:
    mgmt: 100
    production: 200
  discovery_disabled: true
  spare_cluster: spare-pool
dhcp:
  first_ip_offset: 20
  last_ip_offset: -5
  driver: isc-dhcp
openstack:
  auth_url: https://keystone.example.com/v3
  username: fleet
  password: secret
  project: fleet-project
  region: RegionOne
switchconf:
  enabled: false
`)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(raw, &cfg))

	require.Equal(t, "dc2", cfg.Common.Location)
	require.Equal(t, 9001, cfg.Master.Port)
	require.Equal(t, "w1", cfg.Worker.Name)
	require.Equal(t, map[string]int{"mgmt": 100, "production": 200}, cfg.Worker.Net2VLAN)
	require.True(t, cfg.Worker.DiscoveryDisabled)
	require.Equal(t, 20, cfg.DHCP.FirstIPOffset)
	require.Equal(t, -5, cfg.DHCP.LastIPOffset)
	require.Equal(t, "isc-dhcp", cfg.DHCP.Driver)
	require.Equal(t, "RegionOne", cfg.OpenStack.Region)
	require.False(t, cfg.SwitchConf.Enabled)
}
