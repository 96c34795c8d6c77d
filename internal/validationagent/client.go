// Package validationagent implements the HTTP client for the in-band
// validation agent: the short-lived service a server's mgmt OS exposes
// while Validating, over a fixed JSON POST/response contract at
// http://<mgmt-ip>:<port>/v1.0/validate. The source ships the literal
// Python source of one of three scripts as the request's "code" field and
// lets the agent exec it; this rewrite keeps the wire shape but replaces
// the shipped source with a Kind discriminator naming which canned routine
// to run.
package validationagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Kind names the canned routine the agent should run.
type Kind string

const (
	// KindServerInfo reports the asset identity and NICs the agent reads
	// off the running hardware, the source's server_info.py.
	KindServerInfo Kind = "server_info"
	// KindValidationScript reports measured cpu/ram/storage for the SKU
	// match, the source's validation_script.py.
	KindValidationScript Kind = "validation_script"
	// KindRAIDConfigure runs the pre-provisioning RAID initialization, the
	// source's raid_configure.py.
	KindRAIDConfigure Kind = "raid_configure"
)

// DefaultPort is the agent's fixed listen port (spec default 5000).
const DefaultPort = 5000

// AssetInfo is server_info's asset half of its (asset, interfaces) result.
type AssetInfo struct {
	Brand  string `json:"brand"`
	Model  string `json:"model"`
	Serial string `json:"serial"`
}

// Interface is one NIC as self-reported by the agent.
type Interface struct {
	Name  string `json:"name"`
	MAC   string `json:"mac"`
	State string `json:"state"`
}

// HWInfo is validation_script's hardware report, the source's
// comma-separated "model, unit, ram, cpu, disks" asset description parsed
// into fields up front instead of on every read.
type HWInfo struct {
	Model string `json:"model"`
	Unit  string `json:"unit"`
	RAM   string `json:"ram"`
	CPU   string `json:"cpu"`
	Disks string `json:"disks"`
}

// Client is the validation-agent HTTP client, dialing the agent's fixed
// path on a server's management address.
type Client struct {
	httpClient *http.Client
	port       int
}

// New returns a Client. A nil httpClient gets a 30-second-timeout default;
// a zero port gets DefaultPort.
func New(httpClient *http.Client, port int) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	if port == 0 {
		port = DefaultPort
	}

	return &Client{httpClient: httpClient, port: port}
}

type agentRequest struct {
	ServerDict map[string]any `json:"server_dict"`
	Code       Kind           `json:"code"`
}

type agentResponse struct {
	Result json.RawMessage `json:"result"`
}

func (c *Client) post(ctx context.Context, mgmtIP string, kind Kind, serverDict map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(agentRequest{ServerDict: serverDict, Code: kind})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s:%d/v1.0/validate", mgmtIP, c.port)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validation agent %s: %w", mgmtIP, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read validation agent response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validation agent %s: %s: %s", mgmtIP, resp.Status, respBody)
	}

	var out agentResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode validation agent response: %w", err)
	}

	return out.Result, nil
}

// ServerInfo runs server_info against mgmtIP, returning the (asset,
// interfaces) tuple the source's get_asset/read_net_interfaces return.
func (c *Client) ServerInfo(ctx context.Context, mgmtIP string, serverDict map[string]any) (*AssetInfo, []Interface, error) {
	raw, err := c.post(ctx, mgmtIP, KindServerInfo, serverDict)
	if err != nil {
		return nil, nil, err
	}

	var out struct {
		Asset      AssetInfo   `json:"asset"`
		Interfaces []Interface `json:"interfaces"`
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("decode server_info result: %w", err)
	}

	return &out.Asset, out.Interfaces, nil
}

// ValidationScript runs validation_script against mgmtIP, returning the
// hardware it measured for the SKU match.
func (c *Client) ValidationScript(ctx context.Context, mgmtIP string, serverDict map[string]any) (*HWInfo, error) {
	raw, err := c.post(ctx, mgmtIP, KindValidationScript, serverDict)
	if err != nil {
		return nil, err
	}

	var hw HWInfo
	if err := json.Unmarshal(raw, &hw); err != nil {
		return nil, fmt.Errorf("decode validation_script result: %w", err)
	}

	return &hw, nil
}

// RAIDConfigure runs raid_configure against mgmtIP, the S2 pre-provisioning
// RAID initialization step.
func (c *Client) RAIDConfigure(ctx context.Context, mgmtIP string, serverDict map[string]any) (bool, error) {
	raw, err := c.post(ctx, mgmtIP, KindRAIDConfigure, serverDict)
	if err != nil {
		return false, err
	}

	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("decode raid_configure result: %w", err)
	}

	return ok, nil
}
