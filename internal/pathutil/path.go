// Copyright (c) 2023-2026 Canonical Ltd
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

// Package pathutil resolves the on-disk layout shared by fleet-coordinatord,
// fleet-workerd, and fleetctl, honoring FLEET_DATA/FLEET_CONFIG/FLEET_CACHE
// overrides the same way a packaged daemon honors its install prefix.
package pathutil

import (
	"os"
	"path/filepath"
)

const (
	defaultDataDir   = "/var/lib/fleet"
	defaultConfigDir = "/etc/fleet"
	defaultCacheDir  = "/var/cache/fleet"
	defaultRunDir    = "/run/fleet"
)

// DataPath returns the fleet data path with the given relative path appended.
func DataPath(path string) string {
	base := defaultDataDir
	if dataDir := os.Getenv("FLEET_DATA"); dataDir != "" {
		base = filepath.Clean(dataDir)
	}

	return filepath.Join(base, path)
}

// DataDir returns the root fleet data directory.
func DataDir() string {
	return DataPath("")
}

// ConfigPath returns the fleet config path with the given relative path appended.
func ConfigPath(path string) string {
	path = filepath.Clean(path)

	base := defaultConfigDir
	if dataDir := os.Getenv("FLEET_CONFIG"); dataDir != "" {
		base = filepath.Clean(dataDir)
	}

	return filepath.Join(base, path)
}

// ConfigDir returns the root fleet config directory.
func ConfigDir() string {
	return ConfigPath("")
}

// RunDir returns the fleet runtime directory (socket/pidfile location).
func RunDir() string {
	if dir := os.Getenv("FLEET_RUN"); dir != "" {
		return filepath.Clean(dir)
	}

	return defaultRunDir
}

// CachePath returns the fleet cache path with the given relative path appended.
func CachePath(path string) string {
	path = filepath.Clean(path)

	base := defaultCacheDir
	if dataDir := os.Getenv("FLEET_CACHE"); dataDir != "" {
		base = filepath.Clean(dataDir)
	}

	return filepath.Join(base, path)
}

// CacheDir returns the root fleet cache directory.
func CacheDir() string {
	return CachePath("")
}
