package controller

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// GetSpeedTestStatus returns the latest speed test measurements in the
// canonical shape. It never returns an error: when no endpoint yields
// usable data the snapshot degrades to all-absent fields so a polling
// loop keeps running through transient backend trouble.
func (c *Client) GetSpeedTestStatus() StatusSnapshot {
	if c.cfg.MultiWAN {
		wans := c.collectWANInterfaces()
		if len(wans) > 0 {
			primary, method := c.selectPrimaryWAN(wans)
			return StatusSnapshot{
				Result: SpeedTestResult{
					Download: primary.Download,
					Upload:   primary.Upload,
					Ping:     primary.Ping,
					Status:   primary.Status,
				},
				WANs:            wans,
				PrimaryWAN:      primary.Name,
				DetectionMethod: method,
			}
		}
		log.Printf("Multi-WAN enabled but no WAN interfaces detected, falling back to single-WAN result")
	}
	return StatusSnapshot{Result: c.legacyResult()}
}

// legacyResult probes the dialect's candidate endpoints in order and
// returns the first usable single-WAN measurement.
func (c *Client) legacyResult() SpeedTestResult {
	aliases := c.dialect.aliases()
	for _, ep := range c.dialect.statusEndpoints(c.cfg.Site) {
		data, err := c.Request(http.MethodGet, ep.path, nil)
		if err != nil {
			log.Printf("Status endpoint %s unavailable: %v", ep.path, err)
			continue
		}
		records := decodeDataArray(data)
		if len(records) == 0 {
			continue
		}

		switch ep.style {
		case styleHistory:
			// The most recent run is the last entry.
			result := resultFromRecord(records[len(records)-1], aliases)
			if usableResult(result) {
				return result
			}
		case styleHealth:
			for _, rec := range records {
				if !wanLikeSubsystem(stringField(rec, "subsystem")) {
					continue
				}
				result := resultFromRecord(rec, aliases)
				if usableResult(result) {
					return result
				}
			}
		}
	}

	log.Printf("No speed test data found on any endpoint")
	return SpeedTestResult{}
}

// collectWANInterfaces probes the candidate endpoints and returns all
// detected WAN uplinks from the first endpoint that yields any.
func (c *Client) collectWANInterfaces() []WANInterface {
	aliases := c.dialect.aliases()
	for _, ep := range c.dialect.statusEndpoints(c.cfg.Site) {
		data, err := c.Request(http.MethodGet, ep.path, nil)
		if err != nil {
			log.Printf("Status endpoint %s unavailable: %v", ep.path, err)
			continue
		}
		records := decodeDataArray(data)
		if len(records) == 0 {
			continue
		}

		var wans []WANInterface
		switch ep.style {
		case styleHistory:
			if w, ok := wanFromHistory(records, aliases, ep.path); ok {
				wans = append(wans, w)
			}
		case styleHealth:
			wans = wansFromHealth(records, aliases, ep.path)
		}
		if len(wans) > 0 {
			return dedupeWANs(wans)
		}
	}
	return nil
}

// wanFromHistory converts the latest history entry into a single WAN
// record.
func wanFromHistory(records []map[string]any, aliases fieldAliases, source string) (WANInterface, bool) {
	latest := records[len(records)-1]
	result := resultFromRecord(latest, aliases)
	if !usableResult(result) {
		return WANInterface{}, false
	}

	name := stringField(latest, "interface_name", "interface", "ifname")
	if name == "" {
		name = "wan"
	}
	group := stringField(latest, "wan_networkgroup", "networkgroup")
	if group == "" {
		group = "WAN"
	}
	return WANInterface{
		Name:           name,
		NetworkGroup:   group,
		Download:       result.Download,
		Upload:         result.Upload,
		Ping:           result.Ping,
		Status:         result.Status,
		Timestamp:      timestampField(latest),
		SourceEndpoint: source,
	}, true
}

// wansFromHealth scans subsystem records for WAN-like entries.
func wansFromHealth(records []map[string]any, aliases fieldAliases, source string) []WANInterface {
	var wans []WANInterface
	for _, rec := range records {
		subsystem := stringField(rec, "subsystem")
		if !wanLikeSubsystem(subsystem) {
			continue
		}

		result := resultFromRecord(rec, aliases)
		name := stringField(rec, "gw_name", "wan_name", "ifname")
		if name == "" {
			name = subsystem
		}
		group := stringField(rec, "wan_networkgroup", "networkgroup")
		if group == "" {
			group = strings.ToUpper(subsystem)
		}
		wans = append(wans, WANInterface{
			Name:           name,
			NetworkGroup:   group,
			Download:       result.Download,
			Upload:         result.Upload,
			Ping:           result.Ping,
			Status:         result.Status,
			Timestamp:      timestampField(rec),
			SourceEndpoint: source,
		})
	}
	return wans
}

// wanLikeSubsystem reports whether a health subsystem name describes an
// uplink: the sentinel internet subsystem, or anything mentioning an
// uplink keyword.
func wanLikeSubsystem(name string) bool {
	if name == "" {
		return false
	}
	if name == "www" {
		return true
	}
	lower := strings.ToLower(name)
	for _, keyword := range []string{"wan", "internet", "gateway"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func resultFromRecord(rec map[string]any, aliases fieldAliases) SpeedTestResult {
	return SpeedTestResult{
		Download: firstFloat(rec, aliases.download),
		Upload:   firstFloat(rec, aliases.upload),
		Ping:     firstFloat(rec, aliases.latency),
		Status:   stringField(rec, "status", "speedtest_status", "status_text"),
	}
}

func usableResult(r SpeedTestResult) bool {
	return r.Download != nil || r.Upload != nil || r.Ping != nil || r.Status != ""
}

// dedupeWANs collapses records sharing an (interface, network-group)
// key; later records overwrite earlier ones in place, preserving the
// original detection order.
func dedupeWANs(wans []WANInterface) []WANInterface {
	index := make(map[string]int, len(wans))
	out := make([]WANInterface, 0, len(wans))
	for _, w := range wans {
		key := w.Name + "|" + w.NetworkGroup
		if i, ok := index[key]; ok {
			out[i] = w
			continue
		}
		index[key] = len(out)
		out = append(out, w)
	}
	return out
}

// decodeDataArray unwraps the usual {"data": [...]} envelope, tolerating
// a bare array.
func decodeDataArray(data []byte) []map[string]any {
	var wrapper struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Data != nil {
		return wrapper.Data
	}
	var arr []map[string]any
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr
	}
	return nil
}

// firstFloat tries the alias names in preference order and returns the
// first value that coerces to a float.
func firstFloat(rec map[string]any, keys []string) *float64 {
	for _, key := range keys {
		if v, ok := rec[key]; ok {
			if f := toFloat(v); f != nil {
				return f
			}
		}
	}
	return nil
}

// toFloat defensively coerces the numeric formats the backends emit.
// Absence or coercion failure yields nil, never an error.
func toFloat(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case float32:
		f := float64(val)
		return &f
	case int:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return &f
		}
	case string:
		s := strings.TrimSpace(val)
		if s == "" || s == "N/A" || s == "null" {
			return nil
		}
		s = strings.Split(s, " ")[0]
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

func stringField(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := rec[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// timestampField reads a measurement timestamp from the usual fields.
// Numeric values above 1e12 are epoch milliseconds, otherwise epoch
// seconds. Missing or unparseable values yield the zero time.
func timestampField(rec map[string]any) time.Time {
	for _, key := range []string{"speedtest_lastrun", "rundate", "time", "timestamp"} {
		v, ok := rec[key]
		if !ok {
			continue
		}
		if f := toFloat(v); f != nil && *f > 0 {
			if *f > 1e12 {
				return time.UnixMilli(int64(*f))
			}
			return time.Unix(int64(*f), 0)
		}
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
