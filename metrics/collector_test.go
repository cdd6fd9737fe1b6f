package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifi-dashboard/exporter/controller"
	"github.com/unifi-dashboard/exporter/tracker"
)

type fakeSnapshotSource struct {
	snap     controller.StatusSnapshot
	lastPoll time.Time
}

func (f *fakeSnapshotSource) Snapshot() (controller.StatusSnapshot, time.Time) {
	return f.snap, f.lastPoll
}

type fakeHealthSource struct {
	health        controller.HealthStatus
	authenticated bool
}

func (f *fakeHealthSource) HealthStatus() controller.HealthStatus {
	return f.health
}

func (f *fakeHealthSource) IsAuthenticated() bool {
	return f.authenticated
}

type fakeStatsSource struct {
	stats         tracker.Stats
	rate          float64
	automatedRate float64
}

func (f *fakeStatsSource) Snapshot() tracker.Stats {
	return f.stats
}

func (f *fakeStatsSource) SuccessRate() float64 {
	return f.rate
}

func (f *fakeStatsSource) AutomatedSuccessRate() float64 {
	return f.automatedRate
}

func floatPtr(f float64) *float64 {
	return &f
}

func TestCollectorSingleWAN(t *testing.T) {
	source := &fakeSnapshotSource{
		snap: controller.StatusSnapshot{
			Result: controller.SpeedTestResult{
				Download: floatPtr(250),
				Upload:   floatPtr(25),
				Ping:     floatPtr(8),
			},
		},
		lastPoll: time.Now(),
	}
	c := NewCollector(source, &fakeHealthSource{authenticated: true}, &fakeStatsSource{})

	expected := `
# HELP unifi_speedtest_download_mbps Measured download throughput in Mbps
# TYPE unifi_speedtest_download_mbps gauge
unifi_speedtest_download_mbps{interface="wan",network_group="WAN"} 250
# HELP unifi_speedtest_upload_mbps Measured upload throughput in Mbps
# TYPE unifi_speedtest_upload_mbps gauge
unifi_speedtest_upload_mbps{interface="wan",network_group="WAN"} 25
# HELP unifi_speedtest_ping_ms Measured round-trip latency in milliseconds
# TYPE unifi_speedtest_ping_ms gauge
unifi_speedtest_ping_ms{interface="wan",network_group="WAN"} 8
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"unifi_speedtest_download_mbps",
		"unifi_speedtest_upload_mbps",
		"unifi_speedtest_ping_ms",
	)
	require.NoError(t, err)
}

func TestCollectorMultiWANWithPrimary(t *testing.T) {
	source := &fakeSnapshotSource{
		snap: controller.StatusSnapshot{
			WANs: []controller.WANInterface{
				{Name: "eth8", NetworkGroup: "WAN", Download: floatPtr(500), Upload: floatPtr(50)},
				{Name: "eth9", NetworkGroup: "WAN2", Download: floatPtr(100)},
			},
			PrimaryWAN:      "eth8",
			DetectionMethod: "routing-table",
		},
		lastPoll: time.Now(),
	}
	c := NewCollector(source, &fakeHealthSource{}, &fakeStatsSource{})

	expected := `
# HELP unifi_speedtest_download_mbps Measured download throughput in Mbps
# TYPE unifi_speedtest_download_mbps gauge
unifi_speedtest_download_mbps{interface="eth8",network_group="WAN"} 500
unifi_speedtest_download_mbps{interface="eth9",network_group="WAN2"} 100
# HELP unifi_speedtest_primary_wan Set to 1 on the interface chosen as the primary uplink
# TYPE unifi_speedtest_primary_wan gauge
unifi_speedtest_primary_wan{interface="eth8",method="routing-table",network_group="WAN"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"unifi_speedtest_download_mbps",
		"unifi_speedtest_primary_wan",
	)
	require.NoError(t, err)
}

func TestCollectorOmitsAbsentFields(t *testing.T) {
	source := &fakeSnapshotSource{
		snap: controller.StatusSnapshot{
			Result: controller.SpeedTestResult{Ping: floatPtr(15)},
		},
		lastPoll: time.Now(),
	}
	c := NewCollector(source, &fakeHealthSource{}, &fakeStatsSource{})

	assert.Equal(t, 0, testutil.CollectAndCount(c, "unifi_speedtest_download_mbps"))
	assert.Equal(t, 0, testutil.CollectAndCount(c, "unifi_speedtest_upload_mbps"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "unifi_speedtest_ping_ms"))
}

func TestCollectorSkipsLastPollBeforeFirstPoll(t *testing.T) {
	c := NewCollector(&fakeSnapshotSource{}, &fakeHealthSource{}, &fakeStatsSource{})
	assert.Equal(t, 0, testutil.CollectAndCount(c, "unifi_speedtest_last_poll_timestamp_seconds"))
}

func TestCollectorScrapeMetrics(t *testing.T) {
	// Before the first poll completes the scrape reports no data.
	c := NewCollector(&fakeSnapshotSource{}, &fakeHealthSource{}, &fakeStatsSource{})
	expected := `
# HELP unifi_scrape_success Whether the last scrape served data from a completed poll
# TYPE unifi_scrape_success gauge
unifi_scrape_success 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "unifi_scrape_success"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "unifi_scrape_duration_seconds"))

	c = NewCollector(&fakeSnapshotSource{lastPoll: time.Now()}, &fakeHealthSource{}, &fakeStatsSource{})
	expected = `
# HELP unifi_scrape_success Whether the last scrape served data from a completed poll
# TYPE unifi_scrape_success gauge
unifi_scrape_success 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "unifi_scrape_success"))
}

func TestCollectorHealthMetrics(t *testing.T) {
	health := &fakeHealthSource{
		health: controller.HealthStatus{
			ConsecutiveRejections: 4,
			FailedLogins:          2,
			InCooldown:            true,
			CooldownRemaining:     90 * time.Second,
		},
		authenticated: false,
	}
	c := NewCollector(&fakeSnapshotSource{}, health, &fakeStatsSource{})

	expected := `
# HELP unifi_controller_rejections Consecutive rejection-class responses from the controller
# TYPE unifi_controller_rejections gauge
unifi_controller_rejections 4
# HELP unifi_controller_cooldown_seconds Remaining login cooldown, 0 when logins are allowed
# TYPE unifi_controller_cooldown_seconds gauge
unifi_controller_cooldown_seconds 90
# HELP unifi_controller_failed_logins Consecutive failed login attempts
# TYPE unifi_controller_failed_logins gauge
unifi_controller_failed_logins 2
# HELP unifi_controller_authenticated Whether the client holds a session within its validity window
# TYPE unifi_controller_authenticated gauge
unifi_controller_authenticated 0
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"unifi_controller_rejections",
		"unifi_controller_cooldown_seconds",
		"unifi_controller_failed_logins",
		"unifi_controller_authenticated",
	)
	require.NoError(t, err)
}

func TestCollectorTrackerMetrics(t *testing.T) {
	stats := &fakeStatsSource{
		stats: tracker.Stats{
			AutomatedAttempts: 8,
			ManualAttempts:    2,
			Successes:         9,
			Failures:          1,
		},
		rate:          90.0,
		automatedRate: 87.5,
	}
	c := NewCollector(&fakeSnapshotSource{}, &fakeHealthSource{}, stats)

	expected := `
# HELP unifi_speedtest_attempts_total Speed test attempts by trigger mode
# TYPE unifi_speedtest_attempts_total counter
unifi_speedtest_attempts_total{mode="automated"} 8
unifi_speedtest_attempts_total{mode="manual"} 2
# HELP unifi_speedtest_successes_total Successfully triggered speed tests
# TYPE unifi_speedtest_successes_total counter
unifi_speedtest_successes_total 9
# HELP unifi_speedtest_failures_total Failed speed test triggers
# TYPE unifi_speedtest_failures_total counter
unifi_speedtest_failures_total 1
# HELP unifi_speedtest_success_rate Success percentage by trigger mode
# TYPE unifi_speedtest_success_rate gauge
unifi_speedtest_success_rate{mode="all"} 90
unifi_speedtest_success_rate{mode="automated"} 87.5
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"unifi_speedtest_attempts_total",
		"unifi_speedtest_successes_total",
		"unifi_speedtest_failures_total",
		"unifi_speedtest_success_rate",
	)
	require.NoError(t, err)
}

func TestCollectorDescribe(t *testing.T) {
	c := NewCollector(&fakeSnapshotSource{}, &fakeHealthSource{}, &fakeStatsSource{})

	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var count int
	for range ch {
		count++
	}
	assert.Equal(t, 15, count)
}
