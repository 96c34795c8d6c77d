package provision

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/miekg/dns"

	"go.racklord.io/fleet/internal/ctlerrors"
)

// ShellDNSTool maintains A/PTR records by shelling out to an operator-
// configured executable; ChangeRecord and DeleteRecord report only the
// tool's exit status. VerifyPropagated is a separate check that confirms a
// record with a direct DNS query via miekg/dns.
type ShellDNSTool struct {
	executable string
	resolver   string // "host:port"
	timeout    time.Duration
}

func NewShellDNSTool(executable, resolver string, timeout time.Duration) *ShellDNSTool {
	return &ShellDNSTool{executable: executable, resolver: resolver, timeout: timeout}
}

func (t *ShellDNSTool) ChangeRecord(ctx context.Context, fqdn, recordType, value string, ttl int) error {
	return t.run(ctx, "--action", "change", "--fqdn", fqdn, "--type", recordType,
		"--value", value, "--ttl", strconv.Itoa(ttl))
}

func (t *ShellDNSTool) DeleteRecord(ctx context.Context, fqdn, recordType string) error {
	return t.run(ctx, "--action", "delete", "--fqdn", fqdn, "--type", recordType)
}

func (t *ShellDNSTool) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, t.executable, args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}

		return ctlerrors.Exec(exitCode, string(out))
	}

	return nil
}

// VerifyPropagated queries the configured resolver directly, rather than
// trusting the maintenance tool's exit code, since record changes on the
// authoritative server can lag behind the tool's own success response.
func (t *ShellDNSTool) VerifyPropagated(ctx context.Context, fqdn, recordType, value string) error {
	qtype, ok := map[string]uint16{"A": dns.TypeA, "PTR": dns.TypePTR}[recordType]
	if !ok {
		return fmt.Errorf("unsupported record type %s", recordType)
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(fqdn), qtype)

	client := &dns.Client{Timeout: t.timeout}

	resp, _, err := client.ExchangeContext(ctx, m, t.resolver)
	if err != nil {
		return fmt.Errorf("query %s %s: %w", recordType, fqdn, err)
	}

	for _, rr := range resp.Answer {
		if matchesValue(rr, value) {
			return nil
		}
	}

	return ctlerrors.ProvisionIncomplete("%s record for %s not yet propagated", recordType, fqdn)
}

func matchesValue(rr dns.RR, value string) bool {
	switch r := rr.(type) {
	case *dns.A:
		return r.A.String() == value
	case *dns.PTR:
		return r.Ptr == dns.Fqdn(value)
	default:
		return false
	}
}
