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

// Package cli builds the cobra command tree shared by the fleet-coordinatord
// and fleet-workerd daemons: `init` renders a fresh config file, `start`
// hands off to the daemon's own Run loop. fleetctl (the operator CLI) has
// its own tree in internal/ctlcli, since its commands don't fit this
// init/start shape.
package cli

import (
	"context"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"go.racklord.io/fleet/internal/daemon"
)

// Daemon is the process-specific behavior start.go hands off to once config
// is loaded: fleet-coordinatord and fleet-workerd each supply their own.
type Daemon interface {
	Run(ctx context.Context, cfg *daemon.Config) error
}

// Options parameterizes RootCmd for one binary.
type Options struct {
	// Use is the binary's command name, e.g. "fleet-coordinatord".
	Use string
	// Short is the one-line command description.
	Short string
	// ConfigPath is the default config file location for this binary.
	ConfigPath string
	// Daemon runs once start loads config.
	Daemon Daemon
}

func RootCmd(ctx context.Context, fs afero.Fs, opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   opts.Use,
		Short: opts.Short,
		// Silence because we want to use our logger instead.
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolP("help", "h", false,
		"Help information about a command")
	cmd.PersistentFlags().String("config", opts.ConfigPath, "Path to the config file")

	cmd.AddCommand(initCmd(ctx, fs, opts))
	cmd.AddCommand(startCmd(ctx, fs, opts))

	cmd.InitDefaultHelpCmd()

	return cmd
}
