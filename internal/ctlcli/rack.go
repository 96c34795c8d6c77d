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

package ctlcli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.racklord.io/fleet/internal/inventory"
)

func rackCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rack",
		Short: "Create, list, and assign racks.",
	}

	cmd.AddCommand(rackCreateCmd(ctx, dial))
	cmd.AddCommand(rackListCmd(ctx, dial))
	cmd.AddCommand(rackAssignWorkerCmd(ctx, dial))
	cmd.AddCommand(rackTriggerCmd(ctx, dial))

	return cmd
}

func rackCreateCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	var (
		name      string
		location  string
		gatewayIP string
		skuQuota  int
	)

	cmd := &cobra.Command{
		Use:          "create",
		Short:        "Create a rack.",
		Example:      "fleetctl rack create --name rack3 --location dc1 --gateway-ip 10.0.3.1",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, rctx, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if location != "" {
				rctx.Location = location
			}

			var out inventory.Rack

			req := inventory.Rack{Name: name, Location: rctx.Location, GatewayIP: gatewayIP, SKUQuota: skuQuota}
			if err := client.Call(ctx, rctx, "rack_create", req, &out); err != nil {
				return err
			}

			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Rack name")
	cmd.Flags().StringVar(&location, "location", "", "Overrides the --location persistent flag")
	cmd.Flags().StringVar(&gatewayIP, "gateway-ip", "", "Rack's management gateway IP")
	cmd.Flags().IntVar(&skuQuota, "sku-quota", 0, "Maximum servers of any one SKU this rack accepts")

	return cmd
}

func rackListCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List racks in the current location.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, rctx, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			var out []*inventory.Rack
			if err := client.Call(ctx, rctx, "rack_list", nil, &out); err != nil {
				return err
			}

			return printJSON(out)
		},
	}

	return cmd
}

func rackAssignWorkerCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	var (
		rackName string
		workerID int64
		clear    bool
	)

	cmd := &cobra.Command{
		Use:          "assign-worker",
		Short:        "Assign (or clear) a rack's owning worker.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, rctx, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			args2 := struct {
				RackName string `json:"rack_name"`
				WorkerID *int64 `json:"worker_id"`
			}{RackName: rackName}

			if !clear {
				args2.WorkerID = &workerID
			}

			return client.Call(ctx, rctx, "rack_assign_worker", args2, nil)
		},
	}

	cmd.Flags().StringVar(&rackName, "rack", "", "Rack name")
	cmd.Flags().Int64Var(&workerID, "worker-id", 0, "Worker ID to assign")
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the rack's owning worker instead of assigning one")

	return cmd
}

func rackTriggerCmd(ctx context.Context, dial dialFunc) *cobra.Command {
	var (
		rackName     string
		setStatus    string
		targetStatus string
		role         string
		cluster      string
		serverNames  []string
	)

	cmd := &cobra.Command{
		Use:          "trigger",
		Short:        "Trigger a status/target-status change for servers in a rack.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, rctx, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			req := struct {
				RackName     string   `json:"rack_name"`
				ServerNames  []string `json:"server_names,omitempty"`
				SetStatus    string   `json:"set_status,omitempty"`
				Role         string   `json:"role,omitempty"`
				Cluster      string   `json:"cluster,omitempty"`
				TargetStatus string   `json:"target_status,omitempty"`
				Initiator    string   `json:"initiator"`
			}{
				RackName:     rackName,
				ServerNames:  serverNames,
				SetStatus:    setStatus,
				Role:         role,
				Cluster:      cluster,
				TargetStatus: targetStatus,
				Initiator:    rctx.User,
			}

			var out any
			if err := client.Call(ctx, rctx, "rack_trigger", req, &out); err != nil {
				return err
			}

			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&rackName, "rack", "", "Rack name")
	cmd.Flags().StringSliceVar(&serverNames, "servers", nil, "Restrict to these server names")
	cmd.Flags().StringVar(&setStatus, "set-status", "", "Force a server's current status")
	cmd.Flags().StringVar(&targetStatus, "target-status", "", "Set the target status servers should converge toward")
	cmd.Flags().StringVar(&role, "role", "", "Set this role on the matched servers")
	cmd.Flags().StringVar(&cluster, "cluster", "", "Assign the matched servers to this cluster")

	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	return nil
}
