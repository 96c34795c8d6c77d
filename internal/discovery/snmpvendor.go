package discovery

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gosnmp/gosnmp"

	"go.racklord.io/fleet/internal/ctlerrors"
)

// sysObjectID is the standard MIB-II OID every SNMP agent answers a GET on;
// its value's enterprise prefix identifies the vendor.
const sysObjectIDOID = ".1.3.6.1.2.1.1.2.0"

// enterprisePrefixes maps an SNMP enterprise-number prefix (the arc right
// after .1.3.6.1.4.1.) to a vendor label. Dell's is 674.
var enterprisePrefixes = map[string]string{
	"674": "dell",
}

// dellServiceTagOID and dellChassisOID are read during the enterprise-OID
// walk that follows a positive Dell sysObjectID match.
const (
	dellServiceTagOID = ".1.3.6.1.4.1.674.10892.5.1.3.2.0"
	dellChassisOID     = ".1.3.6.1.4.1.674.10892.5.1.3.12.0"
)

// SNMPVendorDriver is the SNMP-first VendorDriver: GET sysObjectID.0,
// classify by enterprise prefix, then walk the vendor's enterprise MIB for
// serial and chassis class. It is the intended implementation (over a
// legacy FRU-first approach that is not ported here).
type SNMPVendorDriver struct {
	Community string
	Port      uint16
	Timeout   time.Duration
	Retries   int

	// IPMIToolPath is the executable used by the Dell hardware-inventory
	// MAC lookup. Defaults to "idracadm7" on PATH.
	IPMIToolPath string
}

// NewSNMPVendorDriver returns a driver whose SNMP GETs use a 5-second
// timeout with 2 retries; the shell MAC lookup's own retry policy is on
// ManagementMAC.
func NewSNMPVendorDriver(community string) *SNMPVendorDriver {
	return &SNMPVendorDriver{
		Community:    community,
		Port:         161,
		Timeout:      5 * time.Second,
		Retries:      2,
		IPMIToolPath: "idracadm7",
	}
}

func (d *SNMPVendorDriver) snmpClient(ip string) *gosnmp.GoSNMP {
	port := d.Port
	if port == 0 {
		port = 161
	}

	return &gosnmp.GoSNMP{
		Target:    ip,
		Port:      port,
		Community: d.Community,
		Version:   gosnmp.Version2c,
		Timeout:   d.Timeout,
		Retries:   d.Retries,
	}
}

// Identify implements VendorDriver.Identify: GET sysObjectID.0, match the
// enterprise prefix, then walk the vendor's serial/chassis OIDs. An unknown
// enterprise prefix returns (nil, nil) which the engine treats as "ignore".
func (d *SNMPVendorDriver) Identify(ctx context.Context, ipmiIP string) (*VendorInfo, error) {
	client := d.snmpClient(ipmiIP)

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", ipmiIP, err)
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{sysObjectIDOID})
	if err != nil {
		return nil, fmt.Errorf("snmp get sysObjectID %s: %w", ipmiIP, err)
	}

	if len(result.Variables) != 1 {
		return nil, fmt.Errorf("snmp get sysObjectID %s: unexpected variable count", ipmiIP)
	}

	oid, ok := result.Variables[0].Value.(string)
	if !ok {
		oid = fmt.Sprintf("%v", result.Variables[0].Value)
	}

	vendor, ok := vendorForOID(oid)
	if !ok {
		return nil, nil
	}

	switch vendor {
	case "dell":
		return d.identifyDell(client)
	default:
		return nil, nil
	}
}

func vendorForOID(oid string) (string, bool) {
	const prefix = ".1.3.6.1.4.1."

	rest, ok := strings.CutPrefix(oid, prefix)
	if !ok {
		return "", false
	}

	arc, _, _ := strings.Cut(rest, ".")

	vendor, ok := enterprisePrefixes[arc]

	return vendor, ok
}

func (d *SNMPVendorDriver) identifyDell(client *gosnmp.GoSNMP) (*VendorInfo, error) {
	result, err := client.Get([]string{dellServiceTagOID, dellChassisOID})
	if err != nil {
		return nil, fmt.Errorf("snmp get dell enterprise oids: %w", err)
	}

	info := &VendorInfo{Brand: "Dell", Chassis: "Server"}

	for _, v := range result.Variables {
		switch v.Name {
		case dellServiceTagOID:
			info.Serial = snmpString(v)
		case dellChassisOID:
			model := snmpString(v)
			info.Model = model

			if strings.Contains(strings.ToLower(model), "chassis") {
				info.Chassis = "NetworkDevice"
			}
		}
	}

	if info.Serial == "" {
		return nil, fmt.Errorf("dell enterprise walk returned no service tag")
	}

	return info, nil
}

func snmpString(v gosnmp.SnmpPDU) string {
	switch val := v.Value.(type) {
	case string:
		return strings.TrimSpace(val)
	case []byte:
		return strings.TrimSpace(string(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}

var dellMACRegexp = regexp.MustCompile(`(?i)Current MAC Address\s*=\s*([0-9a-f:]{17})`)

// ManagementMAC implements VendorDriver.ManagementMAC for Dell iDRACs:
// `<IPMIToolPath> -r <ip> hwinventory`, parsed for "Current MAC Address".
// Attempted up to 5 times at 3-second backoff, each attempt bounded by a
// 20-minute hard timeout; a non-zero exit from the tool is not retried.
func (d *SNMPVendorDriver) ManagementMAC(ctx context.Context, ipmiIP string) (string, error) {
	var mac string

	operation := func() error {
		runCtx, cancel := context.WithTimeout(ctx, 20*time.Minute)
		defer cancel()

		out, err := exec.CommandContext(runCtx, d.IPMIToolPath, "-r", ipmiIP, "hwinventory").CombinedOutput() //nolint:gosec
		if err != nil {
			var exitErr *exec.ExitError
			if exitCode, ok := exitCodeOf(err, &exitErr); ok {
				return backoff.Permanent(ctlerrors.Exec(exitCode, sanitize(string(out))))
			}

			return fmt.Errorf("run %s: %w", d.IPMIToolPath, err)
		}

		match := dellMACRegexp.FindStringSubmatch(string(out))
		if match == nil {
			return fmt.Errorf("no management MAC found in hwinventory output")
		}

		mac = match[1]

		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 4)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}

	return mac, nil
}

func exitCodeOf(err error, target **exec.ExitError) (int, bool) {
	if ee, ok := err.(*exec.ExitError); ok { //nolint:errorlint
		*target = ee
		return ee.ExitCode(), true
	}

	return 0, false
}

// sanitize scrubs credentials from captured subprocess output before it is
// attached to an error that may cross the RPC boundary.
func sanitize(out string) string {
	out = regexp.MustCompile(`(?i)(-p|--password)\s+\S+`).ReplaceAllString(out, "$1 ***")
	return out
}
