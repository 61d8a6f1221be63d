package alerts

import (
	"github.com/Dicklesworthstone/zek/internal/model"
)

// Metrics flattens a snapshot into the names rules refer to. Per-device
// metrics are suffixed with ":" and the interface, mount, sensor, GPU or
// battery name, e.g. "disk_usage_percent:/" or "net_rx_bps:eth0".
func Metrics(s *model.Snapshot) map[string]float64 {
	if s == nil {
		return map[string]float64{}
	}
	m := map[string]float64{
		"cpu_usage":            s.CPUTotalPercent,
		"memory_usage_percent": s.MemoryPercent(),
		"memory_used_bytes":    float64(s.MemoryUsedBytes),
		"swap_usage_percent":   s.SwapPercent(),
		"load1":                s.Load1,
		"load5":                s.Load5,
		"load15":               s.Load15,
		"process_count":        float64(s.ProcessCount),
	}
	for _, n := range s.Interfaces {
		m["net_rx_bps:"+n.Interface] = n.RxThroughputBps
		m["net_tx_bps:"+n.Interface] = n.TxThroughputBps
		m["net_rx_errors:"+n.Interface] = float64(n.RxErrors)
		m["net_tx_errors:"+n.Interface] = float64(n.TxErrors)
	}
	for _, d := range s.Volumes {
		m["disk_usage_percent:"+d.MountPoint] = d.UsagePercent
		m["disk_free_bytes:"+d.MountPoint] = float64(d.FreeBytes)
		m["disk_read_bps:"+d.MountPoint] = d.ReadThroughputBps
		m["disk_write_bps:"+d.MountPoint] = d.WriteThroughputBps
	}
	for _, t := range s.Sensors {
		m["temperature:"+t.Key] = t.Temperature
	}
	for _, g := range s.GPUs {
		m["gpu_usage:"+g.Name] = g.UsagePercent
		m["gpu_temperature:"+g.Name] = g.Temperature
	}
	for _, b := range s.Batteries {
		m["battery_percent:"+b.Name] = b.ChargePercent
	}
	return m
}
