package exporter

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/zek/internal/broker"
	"github.com/Dicklesworthstone/zek/internal/model"
	"github.com/Dicklesworthstone/zek/internal/supervisor"
)

type fakeSource struct {
	snap  *model.Snapshot
	stats supervisor.Stats
}

func (f fakeSource) Latest() *model.Snapshot { return f.snap }
func (f fakeSource) Stats() supervisor.Stats { return f.stats }

func sample() *model.Snapshot {
	return &model.Snapshot{
		CapturedAt:       1_700_000_000_000,
		CPUTotalPercent:  35,
		CPUPerCore:       []float64{30, 40},
		MemoryUsedBytes:  600,
		MemoryTotalBytes: 1000,
		Load1:            0.5,
		Load5:            0.25,
		Load15:           0.125,
		Interfaces: []model.NetworkSample{
			{Interface: "eth0", RxBytes: 2000, TxBytes: 10, RxThroughputBps: 1000},
		},
		Volumes: []model.DiskSample{
			{Device: "/dev/sda1", MountPoint: "/", FSType: "ext4", TotalBytes: 100, FreeBytes: 40, UsedBytes: 60, UsagePercent: 60},
		},
		Sensors: []model.Sensor{{Key: "coretemp", Label: "coretemp", Temperature: 51}},
		GPUs:    []model.GPU{{Name: "RTX", UsagePercent: 12}, {Name: "RTX", UsagePercent: 14}},
		Connections: []model.Connection{
			{Protocol: "tcp", State: "LISTEN"},
			{Protocol: "tcp", State: "LISTEN"},
			{Protocol: "udp", State: "NONE"},
		},
	}
}

func TestCollector_SnapshotMetrics(t *testing.T) {
	c := NewCollector(fakeSource{snap: sample()})

	expected := `
# HELP zek_cpu_usage_percent Per-core CPU usage.
# TYPE zek_cpu_usage_percent gauge
zek_cpu_usage_percent{core="0"} 30
zek_cpu_usage_percent{core="1"} 40
# HELP zek_cpu_total_percent Mean CPU usage across cores.
# TYPE zek_cpu_total_percent gauge
zek_cpu_total_percent 35
# HELP zek_load Load average.
# TYPE zek_load gauge
zek_load{period="1"} 0.5
zek_load{period="15"} 0.125
zek_load{period="5"} 0.25
# HELP zek_network_receive_bytes_per_second Receive throughput.
# TYPE zek_network_receive_bytes_per_second gauge
zek_network_receive_bytes_per_second{interface="eth0"} 1000
# HELP zek_network_receive_bytes_total Bytes received.
# TYPE zek_network_receive_bytes_total counter
zek_network_receive_bytes_total{interface="eth0"} 2000
# HELP zek_disk_usage_percent Filesystem usage.
# TYPE zek_disk_usage_percent gauge
zek_disk_usage_percent{device="/dev/sda1",fstype="ext4",mount="/"} 60
# HELP zek_connections Sockets by protocol and state.
# TYPE zek_connections gauge
zek_connections{protocol="tcp",state="LISTEN"} 2
zek_connections{protocol="udp",state="NONE"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"zek_cpu_usage_percent", "zek_cpu_total_percent", "zek_load",
		"zek_network_receive_bytes_per_second", "zek_network_receive_bytes_total",
		"zek_disk_usage_percent", "zek_connections")
	require.NoError(t, err)
}

func TestCollector_SupervisorCountersWithoutSnapshot(t *testing.T) {
	c := NewCollector(fakeSource{stats: supervisor.Stats{
		Ticks:            7,
		SkippedTicks:     2,
		LastTickDuration: 250 * time.Millisecond,
		Broker:           broker.Stats{Dropped: 3, Subscribers: 1},
	}})

	assert.Equal(t, 5, testutil.CollectAndCount(c), "only supervisor metrics before the first snapshot")

	expected := `
# HELP zek_supervisor_ticks_total Completed sampling ticks.
# TYPE zek_supervisor_ticks_total counter
zek_supervisor_ticks_total 7
# HELP zek_supervisor_skipped_ticks_total Ticks skipped after a failed read.
# TYPE zek_supervisor_skipped_ticks_total counter
zek_supervisor_skipped_ticks_total 2
# HELP zek_broker_dropped_total Snapshots discarded from full subscriber queues.
# TYPE zek_broker_dropped_total counter
zek_broker_dropped_total 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"zek_supervisor_ticks_total", "zek_supervisor_skipped_ticks_total", "zek_broker_dropped_total"))
}

func TestHandler_ServesMetrics(t *testing.T) {
	srv := httptest.NewServer(Handler(fakeSource{snap: sample()}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "zek_cpu_total_percent 35")
	assert.Contains(t, string(body), "go_goroutines")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCollector_InvalidUTF8LabelsAreReplaced(t *testing.T) {
	snap := sample()
	snap.Volumes = append(snap.Volumes, model.DiskSample{
		Device: "/dev/sdb1", MountPoint: "/media/\xe9t\xe9", FSType: "vfat", UsagePercent: 10,
	})
	snap.Interfaces = append(snap.Interfaces, model.NetworkSample{Interface: "wl\xffan"})

	srv := httptest.NewServer(Handler(fakeSource{snap: snap}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mount="/media/�t�"`)
	assert.Contains(t, string(body), `interface="wl�an"`)
	assert.Contains(t, string(body), "zek_cpu_total_percent 35")
}

func TestConstMetric_WrongLabelCountIsInvalidMetric(t *testing.T) {
	m := constMetric(diskUsageDesc, prometheus.GaugeValue, 1, []string{"only-one"})
	require.NotNil(t, m)
	assert.Error(t, m.Write(nil))
}
