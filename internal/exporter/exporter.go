// Package exporter exposes the latest snapshot in the Prometheus text
// format. Metrics are generated at scrape time from Latest, so scrapes never
// touch the sampling loop.
package exporter

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dicklesworthstone/zek/internal/model"
	"github.com/Dicklesworthstone/zek/internal/supervisor"
)

const namespace = "zek"

// Source is what the collector reads on each scrape.
type Source interface {
	Latest() *model.Snapshot
	Stats() supervisor.Stats
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

var (
	cpuCoreDesc  = desc("cpu_usage_percent", "Per-core CPU usage.", "core")
	cpuTotalDesc = desc("cpu_total_percent", "Mean CPU usage across cores.")
	memUsedDesc  = desc("memory_used_bytes", "Used physical memory.")
	memTotalDesc = desc("memory_total_bytes", "Total physical memory.")
	swapUsedDesc = desc("swap_used_bytes", "Used swap.")
	swapTotDesc  = desc("swap_total_bytes", "Total swap.")
	loadDesc     = desc("load", "Load average.", "period")
	procsDesc    = desc("processes", "Number of processes.")
	capturedDesc = desc("snapshot_timestamp_seconds", "Capture time of the exported snapshot.")

	netRxBytesDesc   = desc("network_receive_bytes_total", "Bytes received.", "interface")
	netTxBytesDesc   = desc("network_transmit_bytes_total", "Bytes transmitted.", "interface")
	netRxPacketsDesc = desc("network_receive_packets_total", "Packets received.", "interface")
	netTxPacketsDesc = desc("network_transmit_packets_total", "Packets transmitted.", "interface")
	netRxErrorsDesc  = desc("network_receive_errors_total", "Receive errors.", "interface")
	netTxErrorsDesc  = desc("network_transmit_errors_total", "Transmit errors.", "interface")
	netRxRateDesc    = desc("network_receive_bytes_per_second", "Receive throughput.", "interface")
	netTxRateDesc    = desc("network_transmit_bytes_per_second", "Transmit throughput.", "interface")

	diskLabels        = []string{"mount", "device", "fstype"}
	diskTotalDesc     = desc("disk_total_bytes", "Filesystem size.", diskLabels...)
	diskFreeDesc      = desc("disk_free_bytes", "Filesystem free space.", diskLabels...)
	diskUsedDesc      = desc("disk_used_bytes", "Filesystem used space.", diskLabels...)
	diskUsageDesc     = desc("disk_usage_percent", "Filesystem usage.", diskLabels...)
	diskReadDesc      = desc("disk_read_bytes_total", "Bytes read from the backing device.", diskLabels...)
	diskWriteDesc     = desc("disk_written_bytes_total", "Bytes written to the backing device.", diskLabels...)
	diskReadRateDesc  = desc("disk_read_bytes_per_second", "Read throughput.", diskLabels...)
	diskWriteRateDesc = desc("disk_write_bytes_per_second", "Write throughput.", diskLabels...)

	sensorDesc     = desc("sensor_temperature_celsius", "Sensor temperature.", "sensor", "label")
	gpuUsageDesc   = desc("gpu_usage_percent", "GPU utilisation.", "index", "name")
	gpuMemDesc     = desc("gpu_memory_used_bytes", "GPU memory in use.", "index", "name")
	gpuTempDesc    = desc("gpu_temperature_celsius", "GPU temperature.", "index", "name")
	batteryDesc    = desc("battery_charge_percent", "Battery charge.", "battery", "state")
	containerCPU   = desc("container_cpu_percent", "Summed CPU of a container's processes.", "id", "name", "runtime")
	containerMem   = desc("container_memory_bytes", "Summed RSS of a container's processes.", "id", "name", "runtime")
	connectionDesc = desc("connections", "Sockets by protocol and state.", "protocol", "state")

	ticksDesc       = desc("supervisor_ticks_total", "Completed sampling ticks.")
	skippedDesc     = desc("supervisor_skipped_ticks_total", "Ticks skipped after a failed read.")
	lastTickDesc    = desc("supervisor_last_tick_seconds", "Duration of the last completed tick.")
	droppedDesc     = desc("broker_dropped_total", "Snapshots discarded from full subscriber queues.")
	subscribersDesc = desc("broker_subscribers", "Active subscribers.")
)

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	src Source
}

// NewCollector creates a collector reading from src.
func NewCollector(src Source) *Collector { return &Collector{src: src} }

// Describe sends every descriptor.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		cpuCoreDesc, cpuTotalDesc, memUsedDesc, memTotalDesc, swapUsedDesc, swapTotDesc,
		loadDesc, procsDesc, capturedDesc,
		netRxBytesDesc, netTxBytesDesc, netRxPacketsDesc, netTxPacketsDesc,
		netRxErrorsDesc, netTxErrorsDesc, netRxRateDesc, netTxRateDesc,
		diskTotalDesc, diskFreeDesc, diskUsedDesc, diskUsageDesc,
		diskReadDesc, diskWriteDesc, diskReadRateDesc, diskWriteRateDesc,
		sensorDesc, gpuUsageDesc, gpuMemDesc, gpuTempDesc, batteryDesc,
		containerCPU, containerMem, connectionDesc,
		ticksDesc, skippedDesc, lastTickDesc, droppedDesc, subscribersDesc,
	} {
		ch <- d
	}
}

// Collect emits supervisor counters and, once available, the latest
// snapshot.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(ticksDesc, prometheus.CounterValue, float64(st.Ticks))
	ch <- prometheus.MustNewConstMetric(skippedDesc, prometheus.CounterValue, float64(st.SkippedTicks))
	ch <- prometheus.MustNewConstMetric(lastTickDesc, prometheus.GaugeValue, st.LastTickDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(st.Broker.Dropped))
	ch <- prometheus.MustNewConstMetric(subscribersDesc, prometheus.GaugeValue, float64(st.Broker.Subscribers))

	if s := c.src.Latest(); s != nil {
		collectSnapshot(ch, s)
	}
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- constMetric(d, prometheus.GaugeValue, v, labels)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v uint64, labels ...string) {
	ch <- constMetric(d, prometheus.CounterValue, float64(v), labels)
}

// constMetric replaces invalid UTF-8 in host-supplied label values. Any
// other construction error is reported as an invalid metric.
func constMetric(d *prometheus.Desc, typ prometheus.ValueType, v float64, labels []string) prometheus.Metric {
	clean := make([]string, len(labels))
	for i, l := range labels {
		clean[i] = strings.ToValidUTF8(l, "\uFFFD")
	}
	m, err := prometheus.NewConstMetric(d, typ, v, clean...)
	if err != nil {
		return prometheus.NewInvalidMetric(d, err)
	}
	return m
}

func collectSnapshot(ch chan<- prometheus.Metric, s *model.Snapshot) {
	for i, pct := range s.CPUPerCore {
		gauge(ch, cpuCoreDesc, pct, strconv.Itoa(i))
	}
	gauge(ch, cpuTotalDesc, s.CPUTotalPercent)
	gauge(ch, memUsedDesc, float64(s.MemoryUsedBytes))
	gauge(ch, memTotalDesc, float64(s.MemoryTotalBytes))
	gauge(ch, swapUsedDesc, float64(s.SwapUsedBytes))
	gauge(ch, swapTotDesc, float64(s.SwapTotalBytes))
	gauge(ch, loadDesc, s.Load1, "1")
	gauge(ch, loadDesc, s.Load5, "5")
	gauge(ch, loadDesc, s.Load15, "15")
	gauge(ch, procsDesc, float64(s.ProcessCount))
	gauge(ch, capturedDesc, float64(s.CapturedAt)/1000)

	for _, n := range s.Interfaces {
		counter(ch, netRxBytesDesc, n.RxBytes, n.Interface)
		counter(ch, netTxBytesDesc, n.TxBytes, n.Interface)
		counter(ch, netRxPacketsDesc, n.RxPackets, n.Interface)
		counter(ch, netTxPacketsDesc, n.TxPackets, n.Interface)
		counter(ch, netRxErrorsDesc, n.RxErrors, n.Interface)
		counter(ch, netTxErrorsDesc, n.TxErrors, n.Interface)
		gauge(ch, netRxRateDesc, n.RxThroughputBps, n.Interface)
		gauge(ch, netTxRateDesc, n.TxThroughputBps, n.Interface)
	}

	for _, d := range s.Volumes {
		l := []string{d.MountPoint, d.Device, d.FSType}
		gauge(ch, diskTotalDesc, float64(d.TotalBytes), l...)
		gauge(ch, diskFreeDesc, float64(d.FreeBytes), l...)
		gauge(ch, diskUsedDesc, float64(d.UsedBytes), l...)
		gauge(ch, diskUsageDesc, d.UsagePercent, l...)
		counter(ch, diskReadDesc, d.ReadBytes, l...)
		counter(ch, diskWriteDesc, d.WriteBytes, l...)
		gauge(ch, diskReadRateDesc, d.ReadThroughputBps, l...)
		gauge(ch, diskWriteRateDesc, d.WriteThroughputBps, l...)
	}

	seenSensor := make(map[string]bool, len(s.Sensors))
	for _, t := range s.Sensors {
		if seenSensor[t.Key+"\x00"+t.Label] {
			continue
		}
		seenSensor[t.Key+"\x00"+t.Label] = true
		gauge(ch, sensorDesc, t.Temperature, t.Key, t.Label)
	}
	for i, g := range s.GPUs {
		idx := strconv.Itoa(i)
		gauge(ch, gpuUsageDesc, g.UsagePercent, idx, g.Name)
		gauge(ch, gpuMemDesc, float64(g.MemoryUsedBytes), idx, g.Name)
		gauge(ch, gpuTempDesc, g.Temperature, idx, g.Name)
	}
	for _, b := range s.Batteries {
		gauge(ch, batteryDesc, b.ChargePercent, b.Name, string(b.State))
	}
	for _, c := range s.Containers {
		gauge(ch, containerCPU, c.CPUPercent, c.ID, c.Name, c.Runtime)
		gauge(ch, containerMem, float64(c.MemoryBytes), c.ID, c.Name, c.Runtime)
	}

	type connKey struct{ proto, state string }
	conns := make(map[connKey]int)
	for _, c := range s.Connections {
		conns[connKey{c.Protocol, c.State}]++
	}
	for k, n := range conns {
		gauge(ch, connectionDesc, float64(n), k.proto, k.state)
	}
}

// NewRegistry returns a registry holding the snapshot collector plus the
// standard Go runtime and process collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves /metrics and /health.
func Handler(src Source) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(src), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
