package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPrimaryWANByRouting(t *testing.T) {
	server := statusServer(map[string]string{
		"/proxy/network/api/s/default/stat/routing": `{"data":[
			{"network":"10.0.0.0/24","interface":"br0","metric":0},
			{"network":"0.0.0.0","netmask":"0.0.0.0","interface":"eth9","metric":5},
			{"network":"0.0.0.0","netmask":"0.0.0.0","interface":"eth8","metric":1}
		]}`,
	})
	defer server.Close()

	c, _ := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.MultiWAN = true
	})

	wans := []WANInterface{
		{Name: "eth8", NetworkGroup: "WAN"},
		{Name: "eth9", NetworkGroup: "WAN2"},
	}
	primary, method := c.selectPrimaryWAN(wans)
	assert.Equal(t, "eth8", primary.Name)
	assert.Equal(t, "routing-table", method)
}

func TestPrimaryByRoutingPrefixMatch(t *testing.T) {
	server := statusServer(map[string]string{
		"/proxy/network/api/s/default/stat/routing": `{"data":[
			{"network":"default","interface":"eth8.10"}
		]}`,
	})
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)

	wans := []WANInterface{
		{Name: "eth9", NetworkGroup: "WAN2"},
		{Name: "eth8", NetworkGroup: "WAN"},
	}
	primary, ok := c.primaryByRouting(wans)
	require.True(t, ok)
	assert.Equal(t, "eth8", primary.Name)
}

func TestSelectPrimaryWANByNetworkConfig(t *testing.T) {
	server := statusServer(map[string]string{
		// Routing probes miss so the configuration layer answers.
		"/proxy/network/api/s/default/rest/networkconf": `{"data":[
			{"purpose":"corporate","name":"LAN"},
			{"purpose":"wan","wan_networkgroup":"WAN2","wan_type":"pppoe"},
			{"purpose":"wan","wan_networkgroup":"WAN","wan_type":"pppoe","is_primary":true}
		]}`,
	})
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)

	wans := []WANInterface{
		{Name: "eth8", NetworkGroup: "WAN"},
		{Name: "eth9", NetworkGroup: "WAN2"},
	}
	primary, method := c.selectPrimaryWAN(wans)
	assert.Equal(t, "eth8", primary.Name)
	assert.Equal(t, "network-config", method)
}

func TestPrimaryByNetworkConfigPrefersDHCP(t *testing.T) {
	server := statusServer(map[string]string{
		"/proxy/network/api/s/default/rest/networkconf": `{"data":[
			{"purpose":"wan","wan_networkgroup":"WAN","wan_type":"static"},
			{"purpose":"wan","wan_networkgroup":"WAN2","wan_type":"dhcp"}
		]}`,
	})
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)

	wans := []WANInterface{
		{Name: "eth8", NetworkGroup: "WAN"},
		{Name: "eth9", NetworkGroup: "WAN2"},
	}
	primary, ok := c.primaryByNetworkConfig(wans)
	require.True(t, ok)
	assert.Equal(t, "eth9", primary.Name)
}

func TestClassicSkipsNetworkConfigLayer(t *testing.T) {
	server := statusServer(nil)
	defer server.Close()

	c, _ := newTestClient(t, server.URL, func(cfg *ClientConfig) {
		cfg.Type = TypeClassic
	})

	wans := []WANInterface{{Name: "wan", NetworkGroup: "WAN"}}
	_, ok := c.primaryByNetworkConfig(wans)
	assert.False(t, ok)
}

func TestSelectPrimaryWANFallsBackToFirstDetected(t *testing.T) {
	server := statusServer(nil)
	defer server.Close()

	c, _ := newTestClient(t, server.URL, nil)

	wans := []WANInterface{
		{Name: "wan", NetworkGroup: "WAN"},
		{Name: "wan2", NetworkGroup: "WAN2"},
	}
	primary, method := c.selectPrimaryWAN(wans)
	assert.Equal(t, "wan", primary.Name)
	assert.Equal(t, "fallback", method)
}

func TestPrimaryByScoring(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		wans     []WANInterface
		expected string
		ok       bool
	}{
		{
			name: "complete measurements beat partial ones",
			wans: []WANInterface{
				{Name: "www", Download: floatPtr(50), Timestamp: now},
				{Name: "wan2", Download: floatPtr(100), Upload: floatPtr(10), Timestamp: now},
			},
			expected: "wan2",
			ok:       true,
		},
		{
			name: "tie goes to the latest timestamp",
			wans: []WANInterface{
				{Name: "wan", Download: floatPtr(100), Upload: floatPtr(10), Timestamp: now},
				{Name: "wan2", Download: floatPtr(90), Upload: floatPtr(9), Timestamp: now.Add(time.Hour)},
			},
			expected: "wan2",
			ok:       true,
		},
		{
			name: "tie with equal timestamps keeps the first detected",
			wans: []WANInterface{
				{Name: "wan", Download: floatPtr(100), Upload: floatPtr(10), Timestamp: now},
				{Name: "wan2", Download: floatPtr(100), Upload: floatPtr(10), Timestamp: now},
			},
			expected: "wan",
			ok:       true,
		},
		{
			name: "zero throughput scores nothing",
			wans: []WANInterface{
				{Name: "wan", Download: floatPtr(0), Upload: floatPtr(0)},
				{Name: "wan2", Download: floatPtr(1)},
			},
			expected: "wan2",
			ok:       true,
		},
		{
			name: "no scorable data yields no answer",
			wans: []WANInterface{
				{Name: "wan"},
				{Name: "wan2"},
			},
			ok: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, ok := primaryByScoring(tt.wans)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, primary.Name)
			}
		})
	}
}

func TestIsDefaultRoute(t *testing.T) {
	tests := []struct {
		network  string
		netmask  string
		expected bool
	}{
		{"default", "", true},
		{"0.0.0.0/0", "", true},
		{"0.0.0.0", "", true},
		{"0.0.0.0", "0.0.0.0", true},
		{"0.0.0.0", "0", true},
		{"0.0.0.0", "255.255.255.0", false},
		{"10.0.0.0/24", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, isDefaultRoute(tt.network, tt.netmask),
			"network=%q netmask=%q", tt.network, tt.netmask)
	}
}

func TestLowerMetric(t *testing.T) {
	assert.False(t, lowerMetric(nil, nil))
	assert.False(t, lowerMetric(nil, floatPtr(5)))
	assert.True(t, lowerMetric(floatPtr(5), nil))
	assert.True(t, lowerMetric(floatPtr(1), floatPtr(5)))
	assert.False(t, lowerMetric(floatPtr(5), floatPtr(1)))
}

func TestMatchInterface(t *testing.T) {
	wans := []WANInterface{
		{Name: "eth8"},
		{Name: "eth8.10"},
	}

	// Exact match wins even when a prefix candidate comes first.
	w, ok := matchInterface(wans, "eth8.10")
	require.True(t, ok)
	assert.Equal(t, "eth8.10", w.Name)

	w, ok = matchInterface(wans, "eth8")
	require.True(t, ok)
	assert.Equal(t, "eth8", w.Name)

	_, ok = matchInterface(wans, "ppp0")
	assert.False(t, ok)
}

func TestBoolField(t *testing.T) {
	assert.True(t, boolField(map[string]any{"is_primary": true}, "is_primary"))
	assert.True(t, boolField(map[string]any{"primary": "TRUE"}, "is_primary", "primary"))
	assert.False(t, boolField(map[string]any{"is_primary": false}, "is_primary"))
	assert.False(t, boolField(map[string]any{"is_primary": "yes"}, "is_primary"))
	assert.False(t, boolField(map[string]any{}, "is_primary"))
}
