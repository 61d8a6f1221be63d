// Package snapshot turns one raw host read into an immutable model.Snapshot.
//
// Build is pure: the caller owns the previous snapshot and passes it in, so
// the derived throughput figures depend only on the two arguments and now.
package snapshot

import (
	"sort"
	"time"

	"github.com/Dicklesworthstone/zek/internal/model"
)

// TopProcessLimit is the number of processes kept in Snapshot.TopProcesses.
const TopProcessLimit = 10

// Build assembles a Snapshot from raw counters. prev may be nil.
func Build(raw model.RawCounters, prev *model.Snapshot, now time.Time) *model.Snapshot {
	nowMs := now.UnixMilli()

	s := &model.Snapshot{
		CapturedAt:       nowMs,
		CPUPerCore:       cloneFloats(raw.CPUPerCore),
		CPUTotalPercent:  mean(raw.CPUPerCore),
		MemoryTotalBytes: raw.MemoryTotal,
		MemoryUsedBytes:  saturatingSub(raw.MemoryTotal, raw.MemoryAvailable),
		SwapTotalBytes:   raw.SwapTotal,
		SwapUsedBytes:    saturatingSub(raw.SwapTotal, raw.SwapFree),
		Load1:            nonNegative(raw.Load1),
		Load5:            nonNegative(raw.Load5),
		Load15:           nonNegative(raw.Load15),
		ProcessCount:     len(raw.Processes),
		Sensors:          orEmpty(raw.Sensors),
		Batteries:        orEmpty(raw.Batteries),
		GPUs:             orEmpty(raw.GPUs),
		Connections:      orEmpty(raw.Connections),
		Containers:       orEmpty(raw.Containers),
		Host:             raw.Host,
	}

	var elapsed float64
	if prev != nil {
		elapsed = elapsedSeconds(prev.CapturedAt, nowMs)
	}
	s.Interfaces = buildInterfaces(raw.Interfaces, prev, elapsed)
	s.Volumes = buildVolumes(raw.Volumes, prev, elapsed)

	procs := dedupeProcesses(raw.Processes)
	s.TopProcesses = topProcesses(procs, TopProcessLimit)
	s.ProcessForest = BuildForest(procs)
	return s
}

// Throughput is delta/elapsed for a cumulative counter. A counter that went
// backwards (interface reset, device re-attach) yields 0.
func Throughput(cur, prev uint64, elapsedSec float64) float64 {
	if elapsedSec <= 0 {
		return 0
	}
	return float64(saturatingSub(cur, prev)) / elapsedSec
}

// elapsedSeconds clamps the interval to at least 1ms.
func elapsedSeconds(prevMs, nowMs int64) float64 {
	d := nowMs - prevMs
	if d < 1 {
		d = 1
	}
	return float64(d) / 1000.0
}

func buildInterfaces(raw []model.RawInterface, prev *model.Snapshot, elapsed float64) []model.NetworkSample {
	var prevByName map[string]model.NetworkSample
	if prev != nil {
		prevByName = make(map[string]model.NetworkSample, len(prev.Interfaces))
		for _, n := range prev.Interfaces {
			prevByName[n.Interface] = n
		}
	}

	out := make([]model.NetworkSample, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if _, dup := seen[r.Name]; dup {
			continue
		}
		seen[r.Name] = struct{}{}

		n := model.NetworkSample{
			Interface: r.Name,
			RxBytes:   r.RxBytes,
			TxBytes:   r.TxBytes,
			RxPackets: r.RxPackets,
			TxPackets: r.TxPackets,
			RxErrors:  r.RxErrors,
			TxErrors:  r.TxErrors,
		}
		if p, ok := prevByName[r.Name]; ok {
			n.RxThroughputBps = Throughput(r.RxBytes, p.RxBytes, elapsed)
			n.TxThroughputBps = Throughput(r.TxBytes, p.TxBytes, elapsed)
		}
		out = append(out, n)
	}
	return out
}

func buildVolumes(raw []model.RawVolume, prev *model.Snapshot, elapsed float64) []model.DiskSample {
	var prevByMount map[string]model.DiskSample
	if prev != nil {
		prevByMount = make(map[string]model.DiskSample, len(prev.Volumes))
		for _, d := range prev.Volumes {
			prevByMount[d.MountPoint] = d
		}
	}

	out := make([]model.DiskSample, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if _, dup := seen[r.MountPoint]; dup {
			continue
		}
		seen[r.MountPoint] = struct{}{}

		used := saturatingSub(r.Total, r.Free)
		d := model.DiskSample{
			Device:       r.Device,
			MountPoint:   r.MountPoint,
			FSType:       r.FSType,
			TotalBytes:   r.Total,
			FreeBytes:    r.Free,
			UsedBytes:    used,
			UsagePercent: model.Percent(used, r.Total),
			ReadBytes:    r.ReadBytes,
			WriteBytes:   r.WriteBytes,
		}
		if p, ok := prevByMount[r.MountPoint]; ok {
			d.ReadThroughputBps = Throughput(r.ReadBytes, p.ReadBytes, elapsed)
			d.WriteThroughputBps = Throughput(r.WriteBytes, p.WriteBytes, elapsed)
		}
		out = append(out, d)
	}
	return out
}

// dedupeProcesses keeps the first entry per pid so the forest and the top
// list agree on which record a pid refers to.
func dedupeProcesses(raw []model.RawProcess) []model.RawProcess {
	seen := make(map[int32]struct{}, len(raw))
	out := make([]model.RawProcess, 0, len(raw))
	for _, p := range raw {
		if _, dup := seen[p.PID]; dup {
			continue
		}
		seen[p.PID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func topProcesses(procs []model.RawProcess, limit int) []model.ProcessSample {
	sorted := make([]model.RawProcess, len(procs))
	copy(sorted, procs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CPUPercent > sorted[j].CPUPercent })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	top := make([]model.ProcessSample, len(sorted))
	for i, p := range sorted {
		top[i] = model.ProcessSample{
			PID:         p.PID,
			Name:        p.Name,
			CPUPercent:  p.CPUPercent,
			MemoryBytes: p.MemoryBytes,
			Status:      p.Status,
		}
	}
	return top
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

func cloneFloats(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

func orEmpty[T any](v []T) []T {
	out := make([]T, len(v))
	copy(out, v)
	return out
}
