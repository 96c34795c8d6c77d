// Copyright (c) 2023-2024 Canonical Ltd
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

package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataPath(t *testing.T) {
	testcases := map[string]struct {
		setup func(t *testing.T)
		in    string
		out   string
	}{
		"override": {
			setup: func(t *testing.T) {
				t.Setenv("FLEET_DATA", "/srv/fleet/data")
			},
			in:  "foo",
			out: "/srv/fleet/data/foo",
		},
		"default": {
			setup: func(t *testing.T) {
				t.Setenv("FLEET_DATA", "")
			},
			in:  "foo",
			out: "/var/lib/fleet/foo",
		},
		"clean input path": {
			setup: func(t *testing.T) {
				t.Setenv("FLEET_DATA", "")
			},
			in:  "bar/../baz",
			out: "/var/lib/fleet/baz",
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			tc.setup(t)
			assert.Equal(t, tc.out, DataPath(tc.in))
		})
	}
}

func TestDataDir(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		t.Setenv("FLEET_DATA", "/srv/fleet/data")
		assert.Equal(t, "/srv/fleet/data", DataDir())
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv("FLEET_DATA", "")
		assert.Equal(t, "/var/lib/fleet", DataDir())
	})
}

func TestConfigPath(t *testing.T) {
	testcases := map[string]struct {
		setup func(t *testing.T)
		in    string
		out   string
	}{
		"override": {
			setup: func(t *testing.T) { t.Setenv("FLEET_CONFIG", "/srv/fleet/etc") },
			in:    "conf",
			out:   "/srv/fleet/etc/conf",
		},
		"default": {
			setup: func(t *testing.T) { t.Setenv("FLEET_CONFIG", "") },
			in:    "conf",
			out:   "/etc/fleet/conf",
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			tc.setup(t)
			assert.Equal(t, tc.out, ConfigPath(tc.in))
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		t.Setenv("FLEET_CONFIG", "/srv/fleet/etc")
		assert.Equal(t, "/srv/fleet/etc", ConfigDir())
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv("FLEET_CONFIG", "")
		assert.Equal(t, "/etc/fleet", ConfigDir())
	})
}

func TestRunDir(t *testing.T) {
	testcases := map[string]struct {
		setup func(t *testing.T)
		out   string
	}{
		"override": {
			setup: func(t *testing.T) {
				t.Setenv("FLEET_RUN", "/srv/fleet/run")
			},
			out: "/srv/fleet/run",
		},
		"default": {
			setup: func(t *testing.T) {
				t.Setenv("FLEET_RUN", "")
			},
			out: "/run/fleet",
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			tc.setup(t)
			assert.Equal(t, tc.out, RunDir())
		})
	}
}

func TestCachePath(t *testing.T) {
	testcases := map[string]struct {
		setup func(t *testing.T)
		in    string
		out   string
	}{
		"override": {
			setup: func(t *testing.T) { t.Setenv("FLEET_CACHE", "/srv/fleet/cache") },
			in:    "cachefile",
			out:   "/srv/fleet/cache/cachefile",
		},
		"default": {
			setup: func(t *testing.T) { t.Setenv("FLEET_CACHE", "") },
			in:    "cachefile",
			out:   "/var/cache/fleet/cachefile",
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			tc.setup(t)
			assert.Equal(t, tc.out, CachePath(tc.in))
		})
	}
}

func TestCacheDir(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		t.Setenv("FLEET_CACHE", "/srv/fleet/cache")
		assert.Equal(t, "/srv/fleet/cache", CacheDir())
	})

	t.Run("default", func(t *testing.T) {
		t.Setenv("FLEET_CACHE", "")
		assert.Equal(t, "/var/cache/fleet", CacheDir())
	})
}
