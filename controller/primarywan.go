package controller

import (
	"log"
	"net/http"
	"strings"
)

// Detection method labels recorded in the status snapshot.
const (
	detectionRouting  = "routing-table"
	detectionNetConf  = "network-config"
	detectionScoring  = "scoring"
	detectionFallback = "fallback"
)

// selectPrimaryWAN picks the main internet path among the detected
// uplinks. Layers are tried in a fixed trust order, authoritative
// routing and configuration evidence before heuristic scoring before
// the arbitrary fallback. Every layer fails soft so the next one can
// proceed.
func (c *Client) selectPrimaryWAN(wans []WANInterface) (WANInterface, string) {
	if w, ok := c.primaryByRouting(wans); ok {
		return w, detectionRouting
	}
	if w, ok := c.primaryByNetworkConfig(wans); ok {
		return w, detectionNetConf
	}
	if w, ok := primaryByScoring(wans); ok {
		return w, detectionScoring
	}
	log.Printf("Primary WAN selection fell through to first detected interface %s, choice is arbitrary", wans[0].Name)
	return wans[0], detectionFallback
}

// primaryByRouting looks for the default route's egress interface among
// the detected WANs. Routing endpoints are probed best-effort; anything
// missing or unparseable yields no answer rather than an error.
func (c *Client) primaryByRouting(wans []WANInterface) (WANInterface, bool) {
	routes := c.fetchRecords(c.dialect.routingPaths(c.cfg.Site))
	if len(routes) == 0 {
		return WANInterface{}, false
	}

	var (
		bestIface  string
		bestMetric *float64
		found      bool
	)
	for _, rec := range routes {
		network := stringField(rec, "network", "nw", "destination", "dest")
		netmask := stringField(rec, "netmask", "mask")
		iface := stringField(rec, "interface", "intf", "dev")
		if iface == "" || !isDefaultRoute(network, netmask) {
			continue
		}
		metric := firstFloat(rec, []string{"metric", "pref", "priority"})
		if !found || lowerMetric(metric, bestMetric) {
			bestIface = iface
			bestMetric = metric
			found = true
		}
	}
	if !found {
		return WANInterface{}, false
	}
	return matchInterface(wans, bestIface)
}

// isDefaultRoute recognizes the default-route spellings the two
// dialects emit.
func isDefaultRoute(network, netmask string) bool {
	switch {
	case network == "default":
		return true
	case network == "0.0.0.0/0":
		return true
	case network == "0.0.0.0":
		return netmask == "" || netmask == "0.0.0.0" || netmask == "0"
	}
	return false
}

// lowerMetric prefers explicit metrics over absent ones, then the lower
// value.
func lowerMetric(candidate, current *float64) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	return *candidate < *current
}

// matchInterface matches a route's egress interface name against the
// detected WANs, exact first, then prefix in either direction.
func matchInterface(wans []WANInterface, iface string) (WANInterface, bool) {
	for _, w := range wans {
		if w.Name == iface {
			return w, true
		}
	}
	for _, w := range wans {
		if strings.HasPrefix(w.Name, iface) || strings.HasPrefix(iface, w.Name) {
			return w, true
		}
	}
	return WANInterface{}, false
}

// primaryByNetworkConfig inspects uplink configuration objects. Only the
// appliance dialect exposes these; the classic dialect returns no probe
// paths and the layer yields no answer.
func (c *Client) primaryByNetworkConfig(wans []WANInterface) (WANInterface, bool) {
	paths := c.dialect.networkConfPaths(c.cfg.Site)
	if len(paths) == 0 {
		return WANInterface{}, false
	}
	confs := c.fetchRecords(paths)
	if len(confs) == 0 {
		return WANInterface{}, false
	}

	var wanConfs []map[string]any
	for _, conf := range confs {
		purpose := strings.ToLower(stringField(conf, "purpose"))
		if strings.Contains(purpose, "wan") {
			wanConfs = append(wanConfs, conf)
		}
	}

	// An explicitly flagged primary beats everything.
	for _, conf := range wanConfs {
		if boolField(conf, "is_primary", "primary") {
			if w, ok := matchConfToWAN(wans, conf); ok {
				return w, true
			}
		}
	}
	// Otherwise prefer a dynamically assigned uplink over static/PPPoE.
	for _, conf := range wanConfs {
		if strings.EqualFold(stringField(conf, "wan_type", "type"), "dhcp") {
			if w, ok := matchConfToWAN(wans, conf); ok {
				return w, true
			}
		}
	}
	return WANInterface{}, false
}

func matchConfToWAN(wans []WANInterface, conf map[string]any) (WANInterface, bool) {
	if group := stringField(conf, "wan_networkgroup", "networkgroup"); group != "" {
		for _, w := range wans {
			if strings.EqualFold(w.NetworkGroup, group) {
				return w, true
			}
		}
	}
	if iface := stringField(conf, "wan_ifname", "ifname", "name"); iface != "" {
		return matchInterface(wans, iface)
	}
	return WANInterface{}, false
}

// primaryByScoring ranks the uplinks by measurement completeness:
// positive download and upload are worth 10 each, a present timestamp 5.
// Ties go to the latest timestamp; a present timestamp beats an absent
// one, and when both are absent the earlier-detected interface stands.
func primaryByScoring(wans []WANInterface) (WANInterface, bool) {
	bestIdx := -1
	bestScore := 0
	for i, w := range wans {
		score := 0
		if w.Download != nil && *w.Download > 0 {
			score += 10
		}
		if w.Upload != nil && *w.Upload > 0 {
			score += 10
		}
		if !w.Timestamp.IsZero() {
			score += 5
		}
		switch {
		case score > bestScore:
			bestIdx = i
			bestScore = score
		case score == bestScore && bestIdx >= 0 && w.Timestamp.After(wans[bestIdx].Timestamp):
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return WANInterface{}, false
	}
	return wans[bestIdx], true
}

func boolField(rec map[string]any, keys ...string) bool {
	for _, key := range keys {
		switch v := rec[key].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			if strings.EqualFold(v, "true") {
				return true
			}
		}
	}
	return false
}

// fetchRecords probes paths in order with no retry budget and returns
// the first non-empty record set. Failures are logged and swallowed.
func (c *Client) fetchRecords(paths []string) []map[string]any {
	for _, path := range paths {
		data, err := c.request(http.MethodGet, path, nil, 0)
		if err != nil {
			log.Printf("Probe of %s failed: %v", path, err)
			continue
		}
		if records := decodeDataArray(data); len(records) > 0 {
			return records
		}
	}
	return nil
}
