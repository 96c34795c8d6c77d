package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.racklord.io/fleet/internal/apiclient"
	"go.racklord.io/fleet/internal/ctlerrors"
	"go.racklord.io/fleet/internal/inventory"
)

// RESTBackend is the default Backend: a host-management REST service
// accessed through apiclient.APIClient, with each call attempted up to 5
// times with fixed backoff.
type RESTBackend struct {
	client *apiclient.APIClient
}

func NewRESTBackend(client *apiclient.APIClient) *RESTBackend {
	return &RESTBackend{client: client}
}

func retryPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Second), 4) // 5 total attempts
}

func (b *RESTBackend) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	var resp *http.Response

	err := backoff.Retry(func() error {
		r, err := b.client.Request(ctx, method, path, payload)
		if err != nil {
			return err
		}

		resp = r

		if r.StatusCode >= 500 {
			return fmt.Errorf("back-end returned %d", r.StatusCode)
		}

		return nil
	}, retryPolicy())
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (b *RESTBackend) DeleteHost(ctx context.Context, serial string) error {
	resp, err := b.do(ctx, http.MethodDelete, "/hosts/"+serial, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	return statusToError(resp, "delete host "+serial)
}

func (b *RESTBackend) EnsureSubnet(ctx context.Context, subnet *inventory.Subnet) error {
	resp, err := b.do(ctx, http.MethodPost, "/subnets", map[string]any{
		"ip": subnet.IP, "mask": subnet.Mask, "vlan": subnet.VLAN, "gateway": subnet.Gateway,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	return statusToError(resp, "ensure subnet "+subnet.IP)
}

func (b *RESTBackend) RegisterHost(ctx context.Context, req HostRegistration) error {
	resp, err := b.do(ctx, http.MethodPost, "/hosts", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	return statusToError(resp, "register host "+req.Serial)
}

func (b *RESTBackend) BuildComplete(ctx context.Context, serial, iface string) (bool, string, error) {
	resp, err := b.do(ctx, http.MethodGet, fmt.Sprintf("/hosts/%s/status?iface=%s", serial, iface), nil)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := statusToError(resp, "build status for "+serial); err != nil {
		if ctlerrors.Kind(err) == "NotFound" {
			return false, "", nil
		}

		return false, "", err
	}

	var out struct {
		Complete bool   `json:"complete"`
		Message  string `json:"message"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", err
	}

	return out.Complete, out.Message, nil
}

func (b *RESTBackend) RestartPXE(ctx context.Context, serial string) error {
	resp, err := b.do(ctx, http.MethodPost, "/hosts/"+serial+"/restart-pxe", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	return statusToError(resp, "restart pxe for "+serial)
}

func (b *RESTBackend) OSList(ctx context.Context, name string) ([]Profile, error) {
	path := "/os-profiles"
	if name != "" {
		path += "?name=" + name
	}

	resp, err := b.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := statusToError(resp, "list os profiles"); err != nil {
		return nil, err
	}

	var out []Profile
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	return out, nil
}

func statusToError(resp *http.Response, action string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusNotFound {
		return ctlerrors.NotFound("%s: %s", action, string(body))
	}

	return fmt.Errorf("%s: back-end status %d: %s", action, resp.StatusCode, string(body))
}
