package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineStats provides the collector access to live pipeline state.
type EngineStats interface {
	RecordingActive() bool
	MergesCompleted() int64
	MergesFailed() int64
	UploadsQueuedOK() (uploaded, failed int64)
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats EngineStats

	recordingActive *prometheus.Desc
	mergesCompleted *prometheus.Desc
	mergesFailed    *prometheus.Desc
	uploadsOK       *prometheus.Desc
	uploadsFailed   *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (metrics will report 0).
func NewCollector(stats EngineStats) *Collector {
	return &Collector{
		stats: stats,
		recordingActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "recording_active"),
			"Whether a capture is currently recording (0 or 1).",
			nil, nil,
		),
		mergesCompleted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "analysis", "merges_completed"),
			"Analysis merges applied to the session.",
			nil, nil,
		),
		mergesFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "analysis", "merges_failed"),
			"Analysis merges that fell back to the sentinel payload.",
			nil, nil,
		),
		uploadsOK: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "uploads", "completed"),
			"Raw audio side-channel uploads completed.",
			nil, nil,
		),
		uploadsFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "uploads", "failed"),
			"Raw audio side-channel uploads failed.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.recordingActive
	ch <- c.mergesCompleted
	ch <- c.mergesFailed
	ch <- c.uploadsOK
	ch <- c.uploadsFailed
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		ch <- prometheus.MustNewConstMetric(c.recordingActive, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.mergesCompleted, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.mergesFailed, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.uploadsOK, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.uploadsFailed, prometheus.GaugeValue, 0)
		return
	}

	var recording float64
	if c.stats.RecordingActive() {
		recording = 1
	}
	uploaded, failed := c.stats.UploadsQueuedOK()
	ch <- prometheus.MustNewConstMetric(c.recordingActive, prometheus.GaugeValue, recording)
	ch <- prometheus.MustNewConstMetric(c.mergesCompleted, prometheus.GaugeValue, float64(c.stats.MergesCompleted()))
	ch <- prometheus.MustNewConstMetric(c.mergesFailed, prometheus.GaugeValue, float64(c.stats.MergesFailed()))
	ch <- prometheus.MustNewConstMetric(c.uploadsOK, prometheus.GaugeValue, float64(uploaded))
	ch <- prometheus.MustNewConstMetric(c.uploadsFailed, prometheus.GaugeValue, float64(failed))
}
