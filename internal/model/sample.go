package model

import "time"

// Snapshot is one immutable point-in-time capture shared by the supervisor,
// history, broker and every consumer. Nothing mutates a Snapshot after
// snapshot.Build returns it.
type Snapshot struct {
	CapturedAt int64 `json:"captured_at"` // ms since epoch

	CPUTotalPercent float64   `json:"cpu_total_percent"`
	CPUPerCore      []float64 `json:"cpu_per_core"`

	MemoryUsedBytes  uint64 `json:"memory_used_bytes"`
	MemoryTotalBytes uint64 `json:"memory_total_bytes"`
	SwapUsedBytes    uint64 `json:"swap_used_bytes"`
	SwapTotalBytes   uint64 `json:"swap_total_bytes"`

	Load1  float64 `json:"load_1m"`
	Load5  float64 `json:"load_5m"`
	Load15 float64 `json:"load_15m"`

	Interfaces    []NetworkSample `json:"interfaces"`
	Volumes       []DiskSample    `json:"volumes"`
	ProcessCount  int             `json:"process_count"`
	TopProcesses  []ProcessSample `json:"top_processes"`
	ProcessForest []ProcessNode   `json:"process_forest"`

	Sensors     []Sensor     `json:"sensors"`
	Batteries   []Battery    `json:"batteries"`
	GPUs        []GPU        `json:"gpus"`
	Connections []Connection `json:"connections"`
	Containers  []Container  `json:"containers"`

	Host Host `json:"host"`
}

// Time returns CapturedAt as a time.Time.
func (s *Snapshot) Time() time.Time { return time.UnixMilli(s.CapturedAt) }

// Interface looks up a network sample by interface name.
func (s *Snapshot) Interface(name string) (NetworkSample, bool) {
	for _, n := range s.Interfaces {
		if n.Interface == name {
			return n, true
		}
	}
	return NetworkSample{}, false
}

// Volume looks up a disk sample by mount point.
func (s *Snapshot) Volume(mount string) (DiskSample, bool) {
	for _, d := range s.Volumes {
		if d.MountPoint == mount {
			return d, true
		}
	}
	return DiskSample{}, false
}

// MemoryPercent is used/total in percent, 0 when total is unknown.
func (s *Snapshot) MemoryPercent() float64 { return Percent(s.MemoryUsedBytes, s.MemoryTotalBytes) }

// SwapPercent is used/total swap in percent.
func (s *Snapshot) SwapPercent() float64 { return Percent(s.SwapUsedBytes, s.SwapTotalBytes) }

// NetworkSample holds cumulative interface counters plus derived throughput.
type NetworkSample struct {
	Interface string `json:"interface"`

	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	RxErrors  uint64 `json:"rx_errors"`
	TxErrors  uint64 `json:"tx_errors"`

	RxThroughputBps float64 `json:"rx_throughput_bps"`
	TxThroughputBps float64 `json:"tx_throughput_bps"`
}

// DiskSample holds space figures and IO counters for one mounted volume.
type DiskSample struct {
	Device       string  `json:"device"`
	MountPoint   string  `json:"mount_point"`
	FSType       string  `json:"fs_type"`
	TotalBytes   uint64  `json:"total_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
	UsagePercent float64 `json:"usage_percent"`

	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`

	ReadThroughputBps  float64 `json:"read_throughput_bps"`
	WriteThroughputBps float64 `json:"write_throughput_bps"`
}

// ProcessSample is a lightweight top entry.
type ProcessSample struct {
	PID         int32   `json:"pid"`
	Name        string  `json:"name"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Status      string  `json:"status"`
}

// ProcessNode is one process in the forest. Children are owned by exactly
// one parent; a process appears once in the whole forest.
type ProcessNode struct {
	PID         int32         `json:"pid"`
	Name        string        `json:"name"`
	CPUPercent  float64       `json:"cpu_percent"`
	MemoryBytes uint64        `json:"memory_bytes"`
	ParentPID   *int32        `json:"parent_pid,omitempty"`
	Children    []ProcessNode `json:"children"`
}

// Walk visits n and its descendants depth first.
func (n *ProcessNode) Walk(fn func(*ProcessNode)) {
	fn(n)
	for i := range n.Children {
		n.Children[i].Walk(fn)
	}
}

// Sensor is a thermal sensor reading.
type Sensor struct {
	Key         string  `json:"key"`
	Label       string  `json:"label"`
	Temperature float64 `json:"temperature"` // °C
	High        float64 `json:"high,omitempty"`
	Critical    float64 `json:"critical,omitempty"`
}

// BatteryState mirrors the power_supply status values.
type BatteryState string

const (
	BatteryCharging    BatteryState = "charging"
	BatteryDischarging BatteryState = "discharging"
	BatteryFull        BatteryState = "full"
	BatteryUnknown     BatteryState = "unknown"
)

// Battery shows power state for one supply.
type Battery struct {
	Name          string       `json:"name"`
	ChargePercent float64      `json:"charge_percent"`
	HealthPercent float64      `json:"health_percent"`
	State         BatteryState `json:"state"`
}

// GPU holds a single device snapshot.
type GPU struct {
	Name             string  `json:"name"`
	UsagePercent     float64 `json:"usage_percent"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	Temperature      float64 `json:"temperature"`
	FanSpeedPercent  float64 `json:"fan_speed_percent"`
}

// Connection is one socket from the kernel connection table.
type Connection struct {
	Protocol      string `json:"protocol"`
	LocalAddress  string `json:"local_address"`
	RemoteAddress string `json:"remote_address"`
	State         string `json:"state"`
	PID           *int32 `json:"pid,omitempty"`
}

// ContainerState is a coarse container lifecycle state.
type ContainerState string

const (
	ContainerRunning ContainerState = "running"
	ContainerUnknown ContainerState = "unknown"
)

// Container summarizes processes grouped under one container cgroup.
type Container struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Runtime          string         `json:"runtime"`
	State            ContainerState `json:"state"`
	CPUPercent       float64        `json:"cpu_percent"`
	MemoryBytes      uint64         `json:"memory_bytes"`
	MemoryLimitBytes uint64         `json:"memory_limit_bytes"`
	Processes        int            `json:"processes"`
}

// Host identifies the sampled machine.
type Host struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Platform      string `json:"platform"`
	KernelVersion string `json:"kernel_version"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// Percent returns used*100/total, 0 when total is zero.
func Percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) * 100 / float64(total)
}
