// Package sampler reads raw host counters. It keeps only the state a reader
// needs between calls (CPU times, process handles, caches); all derived
// figures are computed downstream by the snapshot package.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/Dicklesworthstone/zek/internal/logger"
	"github.com/Dicklesworthstone/zek/internal/model"
)

// ErrSevere marks a read that could not produce the CPU/memory base of a
// snapshot. Callers skip the tick.
var ErrSevere = errors.New("severe collection failure")

// Reader returns the current cumulative host counters.
type Reader interface {
	Read(ctx context.Context) (model.RawCounters, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context) (model.RawCounters, error)

// Read calls f.
func (f ReaderFunc) Read(ctx context.Context) (model.RawCounters, error) { return f(ctx) }

// Options toggles the optional sub-collectors.
type Options struct {
	GPU         bool
	Battery     bool
	Sensors     bool
	Connections bool
	Containers  bool
}

// DefaultOptions enables every sub-collector.
func DefaultOptions() Options {
	return Options{GPU: true, Battery: true, Sensors: true, Connections: true, Containers: true}
}

// HostReader reads the local host through gopsutil, sysfs and nvidia-smi.
// Read is not safe for concurrent use; the supervisor is its only caller.
type HostReader struct {
	opts   Options
	logger *slog.Logger

	prevCore []cpu.TimesStat
	procs    map[int32]*process.Process

	// Cgroup cache, cleared every cgroupCacheTicks reads to handle pid reuse.
	cgroupCache map[int32]string
	cacheTick   int

	gpuMu      sync.Mutex
	gpuData    []model.GPU
	gpuFetched time.Time

	// Overridable for tests.
	procRoot string
	sysRoot  string
	runCmd   func(timeout time.Duration, name string, args ...string) (string, error)
}

const (
	cgroupCacheTicks = 60
	gpuRefresh       = 2 * time.Second
	gpuTimeout       = 400 * time.Millisecond
)

// NewHostReader creates a reader for the local host.
func NewHostReader(opts Options, l *slog.Logger) *HostReader {
	return &HostReader{
		opts:        opts,
		logger:      logger.OrDefault(l).With("component", "sampler"),
		procs:       make(map[int32]*process.Process),
		cgroupCache: make(map[int32]string),
		procRoot:    "/proc",
		sysRoot:     "/sys",
		runCmd:      runCmd,
	}
}

// Read performs one full read. Only a missing CPU or memory base is an
// error; every other sub-metric degrades to an empty value.
func (r *HostReader) Read(ctx context.Context) (model.RawCounters, error) {
	var raw model.RawCounters

	perCore, err := r.cpuPercents(ctx)
	if err != nil {
		return raw, fmt.Errorf("%w: cpu: %v", ErrSevere, err)
	}
	raw.CPUPerCore = perCore

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return raw, fmt.Errorf("%w: memory: %v", ErrSevere, err)
	}
	raw.MemoryTotal = vm.Total
	raw.MemoryAvailable = vm.Available

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		raw.SwapTotal, raw.SwapFree = sw.Total, sw.Free
	} else {
		r.gap("swap", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		raw.Load1, raw.Load5, raw.Load15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		r.gap("load", err)
	}

	raw.Interfaces = r.interfaces(ctx)
	raw.Volumes = r.volumes(ctx)
	raw.Processes = r.processes(ctx)

	if info, err := host.InfoWithContext(ctx); err == nil {
		raw.Host = model.Host{
			Hostname:      info.Hostname,
			OS:            info.OS,
			Platform:      info.Platform,
			KernelVersion: info.KernelVersion,
			UptimeSeconds: info.Uptime,
		}
	} else {
		r.gap("host", err)
	}

	if r.opts.Sensors {
		raw.Sensors = r.sensors(ctx)
	}
	if r.opts.Battery {
		raw.Batteries = r.batteries()
	}
	if r.opts.GPU {
		raw.GPUs = r.gpus()
	}
	if r.opts.Connections {
		raw.Connections = r.connections(ctx)
	}
	if r.opts.Containers {
		raw.Containers = r.containers(raw.Processes)
	}
	return raw, nil
}

func (r *HostReader) gap(metric string, err error) {
	r.logger.Debug("sub-metric unavailable", "metric", metric, "error", err)
}

// cpuPercents computes per-core busy percent from the times delta against
// the previous read. The first read reports zeros.
func (r *HostReader) cpuPercents(ctx context.Context) ([]float64, error) {
	coreTimes, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(coreTimes) == 0 {
		return nil, errors.New("no cpus reported")
	}

	perCore := make([]float64, len(coreTimes))
	for i, c := range coreTimes {
		if i >= len(r.prevCore) {
			continue
		}
		perCore[i] = busyPercent(r.prevCore[i], c)
	}
	r.prevCore = coreTimes
	return perCore, nil
}

func busyPercent(prev, cur cpu.TimesStat) float64 {
	dt := cur.Total() - prev.Total()
	di := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	if dt <= 0 {
		return 0
	}
	pct := 100 * (1 - di/dt)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

func (r *HostReader) interfaces(ctx context.Context) []model.RawInterface {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		r.gap("net", err)
		return nil
	}
	out := make([]model.RawInterface, 0, len(counters))
	for _, c := range counters {
		out = append(out, model.RawInterface{
			Name:      c.Name,
			RxBytes:   c.BytesRecv,
			TxBytes:   c.BytesSent,
			RxPackets: c.PacketsRecv,
			TxPackets: c.PacketsSent,
			RxErrors:  c.Errin,
			TxErrors:  c.Errout,
		})
	}
	return out
}

func (r *HostReader) volumes(ctx context.Context) []model.RawVolume {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		r.gap("disk", err)
		return nil
	}
	ioCounters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		r.gap("diskio", err)
	}

	out := make([]model.RawVolume, 0, len(parts))
	for _, p := range parts {
		if strings.HasPrefix(filepath.Base(p.Device), "loop") {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			r.gap("disk:"+p.Mountpoint, err)
			continue
		}
		v := model.RawVolume{
			Device:     p.Device,
			MountPoint: p.Mountpoint,
			FSType:     p.Fstype,
			Total:      usage.Total,
			Free:       usage.Free,
		}
		if io, ok := ioCounters[filepath.Base(p.Device)]; ok {
			v.ReadBytes, v.WriteBytes = io.ReadBytes, io.WriteBytes
		}
		out = append(out, v)
	}
	return out
}

// processes lists every process in read order. Handles are kept across reads
// so Percent(0) measures CPU since the previous read instead of lifetime.
func (r *HostReader) processes(ctx context.Context) []model.RawProcess {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		r.gap("processes", err)
		return nil
	}

	seen := make(map[int32]*process.Process, len(procs))
	out := make([]model.RawProcess, 0, len(procs))
	for _, p := range procs {
		if cached, ok := r.procs[p.Pid]; ok {
			p = cached
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // exited mid-read
		}
		seen[p.Pid] = p

		entry := model.RawProcess{PID: p.Pid, Name: name}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			entry.ParentPID = &ppid
		}
		entry.CPUPercent, _ = p.PercentWithContext(ctx, 0)
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			entry.MemoryBytes = mi.RSS
		}
		if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 {
			entry.Status = st[0]
		}
		out = append(out, entry)
	}
	r.procs = seen
	return out
}

func (r *HostReader) sensors(ctx context.Context) []model.Sensor {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	// gopsutil reports per-sensor failures as warnings next to partial data.
	if len(temps) == 0 {
		if err != nil {
			r.gap("sensors", err)
		}
		return r.thermalZones()
	}
	out := make([]model.Sensor, 0, len(temps))
	for _, t := range temps {
		out = append(out, model.Sensor{
			Key:         t.SensorKey,
			Label:       t.SensorKey,
			Temperature: t.Temperature,
			High:        t.High,
			Critical:    t.Critical,
		})
	}
	return out
}

func (r *HostReader) connections(ctx context.Context) []model.Connection {
	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		r.gap("connections", err)
		return nil
	}
	out := make([]model.Connection, 0, len(conns))
	for _, c := range conns {
		conn := model.Connection{
			Protocol:      protocolName(c.Family, c.Type),
			LocalAddress:  formatAddr(c.Laddr),
			RemoteAddress: formatAddr(c.Raddr),
			State:         c.Status,
		}
		if c.Pid > 0 {
			pid := c.Pid
			conn.PID = &pid
		}
		out = append(out, conn)
	}
	return out
}

func protocolName(family, typ uint32) string {
	name := "unknown"
	switch typ {
	case 1: // SOCK_STREAM
		name = "tcp"
	case 2: // SOCK_DGRAM
		name = "udp"
	}
	if family == 10 || family == 30 { // AF_INET6 on linux, darwin
		name += "6"
	}
	return name
}

func formatAddr(a net.Addr) string {
	if a.IP == "" && a.Port == 0 {
		return ""
	}
	if strings.Contains(a.IP, ":") {
		return fmt.Sprintf("[%s]:%d", a.IP, a.Port)
	}
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}
