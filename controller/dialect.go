package controller

import "fmt"

// endpointStyle tells the normalizer how to read a status endpoint's
// payload.
type endpointStyle int

const (
	// styleHistory endpoints return a chronological list of speed test
	// runs; the last entry is the latest measurement.
	styleHistory endpointStyle = iota

	// styleHealth endpoints return per-subsystem health records; WAN-like
	// subsystems carry throughput and latency fields.
	styleHealth
)

// statusEndpoint is one candidate source of speed test data.
type statusEndpoint struct {
	path  string
	style endpointStyle
}

// fieldAliases is the per-dialect preference order for measurement field
// names. The two backends disagree on naming, so each list starts with
// the dialect's primary name and falls back to the other's.
type fieldAliases struct {
	download []string
	upload   []string
	latency  []string
}

// dialect describes one controller API style: where to log in, how to
// trigger a test, and which endpoints to probe for results. The client
// owns all HTTP mechanics; a dialect only supplies paths and payloads.
type dialect interface {
	controllerType() ControllerType
	loginPath() string
	loginPayload(username, password string) any
	startTestPath(site string) string
	startTestPayload() any
	statusEndpoints(site string) []statusEndpoint
	routingPaths(site string) []string
	// networkConfPaths returns nil for dialects without uplink
	// configuration introspection.
	networkConfPaths(site string) []string
	sysinfoPath(site string) string
	aliases() fieldAliases
}

func dialectFor(t ControllerType) (dialect, error) {
	switch t {
	case TypeAppliance:
		return applianceDialect{}, nil
	case TypeClassic:
		return classicDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported controller type: %q", t)
	}
}

type loginCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// applianceDialect is the integrated-gateway API style. Network
// application endpoints sit behind the /proxy/network prefix and the
// modern v2 API carries speed test history directly.
type applianceDialect struct{}

func (applianceDialect) controllerType() ControllerType { return TypeAppliance }

func (applianceDialect) loginPath() string { return "/api/auth/login" }

func (applianceDialect) loginPayload(username, password string) any {
	return loginCredentials{Username: username, Password: password}
}

func (applianceDialect) startTestPath(site string) string {
	return fmt.Sprintf("/proxy/network/v2/api/site/%s/speedtest", site)
}

// The v2 trigger takes an empty object; the command lives in the path.
func (applianceDialect) startTestPayload() any { return struct{}{} }

func (applianceDialect) statusEndpoints(site string) []statusEndpoint {
	return []statusEndpoint{
		{path: fmt.Sprintf("/proxy/network/v2/api/site/%s/speedtest", site), style: styleHistory},
		{path: fmt.Sprintf("/proxy/network/api/s/%s/stat/health", site), style: styleHealth},
		{path: fmt.Sprintf("/proxy/network/v1/api/site/%s/speedtest", site), style: styleHistory},
	}
}

func (applianceDialect) routingPaths(site string) []string {
	return []string{
		fmt.Sprintf("/proxy/network/api/s/%s/stat/routing", site),
		fmt.Sprintf("/proxy/network/api/s/%s/stat/route", site),
	}
}

func (applianceDialect) networkConfPaths(site string) []string {
	return []string{
		fmt.Sprintf("/proxy/network/api/s/%s/rest/networkconf", site),
		fmt.Sprintf("/proxy/network/v2/api/site/%s/lan/enriched-configuration", site),
	}
}

func (applianceDialect) sysinfoPath(site string) string {
	return fmt.Sprintf("/proxy/network/api/s/%s/stat/sysinfo", site)
}

func (applianceDialect) aliases() fieldAliases {
	return fieldAliases{
		download: []string{"download_mbps", "xput_download", "xput_down"},
		upload:   []string{"upload_mbps", "xput_upload", "xput_up"},
		latency:  []string{"latency_ms", "speedtest_ping", "latency"},
	}
}

// classicDialect is the traditional standalone-software API style.
// There is no v2 API; history comes from the archived report endpoint.
type classicDialect struct{}

func (classicDialect) controllerType() ControllerType { return TypeClassic }

func (classicDialect) loginPath() string { return "/api/login" }

func (classicDialect) loginPayload(username, password string) any {
	return loginCredentials{Username: username, Password: password}
}

func (classicDialect) startTestPath(site string) string {
	return fmt.Sprintf("/api/s/%s/cmd/devmgr", site)
}

func (classicDialect) startTestPayload() any {
	return map[string]string{"cmd": "speedtest"}
}

func (classicDialect) statusEndpoints(site string) []statusEndpoint {
	return []statusEndpoint{
		{path: fmt.Sprintf("/api/s/%s/stat/report/archive.speedtest", site), style: styleHistory},
		{path: fmt.Sprintf("/api/s/%s/stat/health", site), style: styleHealth},
	}
}

func (classicDialect) routingPaths(site string) []string {
	return []string{
		fmt.Sprintf("/api/s/%s/stat/routing", site),
	}
}

// Classic controllers do not expose uplink configuration objects; the
// primary-WAN heuristic skips its network-configuration layer for them.
func (classicDialect) networkConfPaths(string) []string { return nil }

func (classicDialect) sysinfoPath(site string) string {
	return fmt.Sprintf("/api/s/%s/stat/sysinfo", site)
}

func (classicDialect) aliases() fieldAliases {
	return fieldAliases{
		download: []string{"xput_download", "xput_down", "download_mbps"},
		upload:   []string{"xput_upload", "xput_up", "upload_mbps"},
		latency:  []string{"speedtest_ping", "latency", "latency_ms"},
	}
}
