// Package metrics provides Prometheus metric collection for the UniFi
// speed test exporter.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unifi-dashboard/exporter/controller"
	"github.com/unifi-dashboard/exporter/tracker"
)

// SnapshotSource supplies the latest cached poll result. The collector
// never performs network work inside a scrape; the client's backoff
// sleeps can far exceed any scrape deadline.
type SnapshotSource interface {
	Snapshot() (controller.StatusSnapshot, time.Time)
}

// HealthSource supplies the client's connection health.
type HealthSource interface {
	HealthStatus() controller.HealthStatus
	IsAuthenticated() bool
}

// StatsSource supplies execution statistics.
type StatsSource interface {
	Snapshot() tracker.Stats
	SuccessRate() float64
	AutomatedSuccessRate() float64
}

// Collector implements prometheus.Collector for speed test metrics.
type Collector struct {
	source SnapshotSource
	health HealthSource
	stats  StatsSource
	mu     sync.Mutex

	// Measurement metrics
	downloadDesc *prometheus.Desc
	uploadDesc   *prometheus.Desc
	pingDesc     *prometheus.Desc
	primaryDesc  *prometheus.Desc
	lastPollDesc *prometheus.Desc

	// Client health metrics
	rejectionsDesc    *prometheus.Desc
	cooldownDesc      *prometheus.Desc
	failedLoginsDesc  *prometheus.Desc
	authenticatedDesc *prometheus.Desc

	// Execution tracker metrics
	attemptsDesc    *prometheus.Desc
	successesDesc   *prometheus.Desc
	failuresDesc    *prometheus.Desc
	successRateDesc *prometheus.Desc

	// Scrape metrics
	scrapeSuccessDesc  *prometheus.Desc
	scrapeDurationDesc *prometheus.Desc
}

// NewCollector creates a Collector over the given sources.
func NewCollector(source SnapshotSource, health HealthSource, stats StatsSource) *Collector {
	wanLabels := []string{"interface", "network_group"}

	return &Collector{
		source: source,
		health: health,
		stats:  stats,

		downloadDesc: prometheus.NewDesc(
			"unifi_speedtest_download_mbps",
			"Measured download throughput in Mbps",
			wanLabels,
			nil,
		),
		uploadDesc: prometheus.NewDesc(
			"unifi_speedtest_upload_mbps",
			"Measured upload throughput in Mbps",
			wanLabels,
			nil,
		),
		pingDesc: prometheus.NewDesc(
			"unifi_speedtest_ping_ms",
			"Measured round-trip latency in milliseconds",
			wanLabels,
			nil,
		),
		primaryDesc: prometheus.NewDesc(
			"unifi_speedtest_primary_wan",
			"Set to 1 on the interface chosen as the primary uplink",
			[]string{"interface", "network_group", "method"},
			nil,
		),
		lastPollDesc: prometheus.NewDesc(
			"unifi_speedtest_last_poll_timestamp_seconds",
			"Unix time of the last completed status poll",
			nil,
			nil,
		),

		rejectionsDesc: prometheus.NewDesc(
			"unifi_controller_rejections",
			"Consecutive rejection-class responses from the controller",
			nil,
			nil,
		),
		cooldownDesc: prometheus.NewDesc(
			"unifi_controller_cooldown_seconds",
			"Remaining login cooldown, 0 when logins are allowed",
			nil,
			nil,
		),
		failedLoginsDesc: prometheus.NewDesc(
			"unifi_controller_failed_logins",
			"Consecutive failed login attempts",
			nil,
			nil,
		),
		authenticatedDesc: prometheus.NewDesc(
			"unifi_controller_authenticated",
			"Whether the client holds a session within its validity window",
			nil,
			nil,
		),

		attemptsDesc: prometheus.NewDesc(
			"unifi_speedtest_attempts_total",
			"Speed test attempts by trigger mode",
			[]string{"mode"},
			nil,
		),
		successesDesc: prometheus.NewDesc(
			"unifi_speedtest_successes_total",
			"Successfully triggered speed tests",
			nil,
			nil,
		),
		failuresDesc: prometheus.NewDesc(
			"unifi_speedtest_failures_total",
			"Failed speed test triggers",
			nil,
			nil,
		),
		successRateDesc: prometheus.NewDesc(
			"unifi_speedtest_success_rate",
			"Success percentage by trigger mode",
			[]string{"mode"},
			nil,
		),

		scrapeSuccessDesc: prometheus.NewDesc(
			"unifi_scrape_success",
			"Whether the last scrape served data from a completed poll",
			nil,
			nil,
		),
		scrapeDurationDesc: prometheus.NewDesc(
			"unifi_scrape_duration_seconds",
			"Duration of the last scrape in seconds",
			nil,
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.downloadDesc
	ch <- c.uploadDesc
	ch <- c.pingDesc
	ch <- c.primaryDesc
	ch <- c.lastPollDesc
	ch <- c.rejectionsDesc
	ch <- c.cooldownDesc
	ch <- c.failedLoginsDesc
	ch <- c.authenticatedDesc
	ch <- c.attemptsDesc
	ch <- c.successesDesc
	ch <- c.failuresDesc
	ch <- c.successRateDesc
	ch <- c.scrapeSuccessDesc
	ch <- c.scrapeDurationDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		ch <- prometheus.MustNewConstMetric(c.scrapeDurationDesc, prometheus.GaugeValue, v)
	}))
	defer timer.ObserveDuration()

	snap, lastPoll := c.source.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.scrapeSuccessDesc, prometheus.GaugeValue, boolValue(!lastPoll.IsZero()))
	if !lastPoll.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastPollDesc, prometheus.GaugeValue, float64(lastPoll.Unix()))
	}
	c.collectMeasurements(ch, snap)

	hs := c.health.HealthStatus()
	ch <- prometheus.MustNewConstMetric(c.rejectionsDesc, prometheus.GaugeValue, float64(hs.ConsecutiveRejections))
	ch <- prometheus.MustNewConstMetric(c.cooldownDesc, prometheus.GaugeValue, hs.CooldownRemaining.Seconds())
	ch <- prometheus.MustNewConstMetric(c.failedLoginsDesc, prometheus.GaugeValue, float64(hs.FailedLogins))
	ch <- prometheus.MustNewConstMetric(c.authenticatedDesc, prometheus.GaugeValue, boolValue(c.health.IsAuthenticated()))

	stats := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.attemptsDesc, prometheus.CounterValue, float64(stats.AutomatedAttempts), "automated")
	ch <- prometheus.MustNewConstMetric(c.attemptsDesc, prometheus.CounterValue, float64(stats.ManualAttempts), "manual")
	ch <- prometheus.MustNewConstMetric(c.successesDesc, prometheus.CounterValue, float64(stats.Successes))
	ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(stats.Failures))
	ch <- prometheus.MustNewConstMetric(c.successRateDesc, prometheus.GaugeValue, c.stats.SuccessRate(), "all")
	ch <- prometheus.MustNewConstMetric(c.successRateDesc, prometheus.GaugeValue, c.stats.AutomatedSuccessRate(), "automated")
}

func (c *Collector) collectMeasurements(ch chan<- prometheus.Metric, snap controller.StatusSnapshot) {
	if len(snap.WANs) == 0 {
		c.emitResult(ch, snap.Result, "wan", "WAN")
		return
	}
	for _, wan := range snap.WANs {
		c.emitResult(ch, controller.SpeedTestResult{
			Download: wan.Download,
			Upload:   wan.Upload,
			Ping:     wan.Ping,
		}, wan.Name, wan.NetworkGroup)
		if wan.Name == snap.PrimaryWAN {
			ch <- prometheus.MustNewConstMetric(c.primaryDesc, prometheus.GaugeValue, 1,
				wan.Name, wan.NetworkGroup, snap.DetectionMethod)
		}
	}
}

// emitResult reports only the fields the backend actually supplied.
func (c *Collector) emitResult(ch chan<- prometheus.Metric, r controller.SpeedTestResult, iface, group string) {
	if r.Download != nil {
		ch <- prometheus.MustNewConstMetric(c.downloadDesc, prometheus.GaugeValue, *r.Download, iface, group)
	}
	if r.Upload != nil {
		ch <- prometheus.MustNewConstMetric(c.uploadDesc, prometheus.GaugeValue, *r.Upload, iface, group)
	}
	if r.Ping != nil {
		ch <- prometheus.MustNewConstMetric(c.pingDesc, prometheus.GaugeValue, *r.Ping, iface, group)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
