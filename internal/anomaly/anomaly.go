// Package anomaly derives trends and threshold anomalies from retained
// history. It is stateless: every call works on the slice it is given.
package anomaly

import (
	"github.com/Dicklesworthstone/zek/internal/model"
)

// Trend is the direction of a metric across a window.
type Trend string

const (
	Increasing Trend = "increasing"
	Decreasing Trend = "decreasing"
	Stable     Trend = "stable"
	Unknown    Trend = "unknown"
)

const (
	// PercentStep is the first-to-last change, in percentage points, that
	// counts as a trend for percent metrics.
	PercentStep = 5.0
	// RelativeStep is the same for rates, as a fraction of the window mean.
	RelativeStep = 0.05

	HighCPU    = 90.0
	LowCPU     = 5.0
	HighMemory = 90.0

	// fullConfidence is the window length at which confidence reaches 1.
	fullConfidence = 10
)

// TrendAnalysis summarizes one metric over a window.
type TrendAnalysis struct {
	Metric     string   `json:"metric"`
	Trend      Trend    `json:"trend"`
	Confidence float64  `json:"confidence"`
	Prediction *float64 `json:"prediction,omitempty"`
	Samples    int      `json:"samples"`
}

// Anomaly is one sample that crossed a fixed threshold.
type Anomaly struct {
	Metric      string  `json:"metric"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Timestamp   int64   `json:"timestamp"` // ms since epoch
	Description string  `json:"description"`
}

// Report is what GET /api/trends returns.
type Report struct {
	CPU       TrendAnalysis `json:"cpu"`
	Memory    TrendAnalysis `json:"memory"`
	Network   TrendAnalysis `json:"network"`
	Anomalies []Anomaly     `json:"anomalies"`
}

// Analyze computes all trends and anomalies over snaps, oldest first.
func Analyze(snaps []*model.Snapshot) Report {
	return Report{
		CPU:       CPUTrend(snaps),
		Memory:    MemoryTrend(snaps),
		Network:   NetworkTrend(snaps),
		Anomalies: append(CPUAnomalies(snaps), MemoryAnomalies(snaps)...),
	}
}

func CPUTrend(snaps []*model.Snapshot) TrendAnalysis {
	return analyze("cpu_usage", series(snaps, func(s *model.Snapshot) float64 { return s.CPUTotalPercent }), absolute(PercentStep))
}

func MemoryTrend(snaps []*model.Snapshot) TrendAnalysis {
	return analyze("memory_usage_percent", series(snaps, (*model.Snapshot).MemoryPercent), absolute(PercentStep))
}

// NetworkTrend follows the combined receive and transmit rate of every
// interface.
func NetworkTrend(snaps []*model.Snapshot) TrendAnalysis {
	return analyze("network_bps", series(snaps, networkBps), relative(RelativeStep))
}

func networkBps(s *model.Snapshot) float64 {
	var sum float64
	for _, n := range s.Interfaces {
		sum += n.RxThroughputBps + n.TxThroughputBps
	}
	return sum
}

// CPUAnomalies flags samples above HighCPU or below LowCPU.
func CPUAnomalies(snaps []*model.Snapshot) []Anomaly {
	out := []Anomaly{}
	for _, s := range snaps {
		switch v := s.CPUTotalPercent; {
		case v > HighCPU:
			out = append(out, Anomaly{Metric: "cpu_usage", Value: v, Threshold: HighCPU, Timestamp: s.CapturedAt, Description: "high CPU usage"})
		case v < LowCPU:
			out = append(out, Anomaly{Metric: "cpu_usage", Value: v, Threshold: LowCPU, Timestamp: s.CapturedAt, Description: "very low CPU usage"})
		}
	}
	return out
}

// MemoryAnomalies flags samples above HighMemory. Hosts reporting no memory
// total are skipped.
func MemoryAnomalies(snaps []*model.Snapshot) []Anomaly {
	out := []Anomaly{}
	for _, s := range snaps {
		if s.MemoryTotalBytes == 0 {
			continue
		}
		if v := s.MemoryPercent(); v > HighMemory {
			out = append(out, Anomaly{Metric: "memory_usage_percent", Value: v, Threshold: HighMemory, Timestamp: s.CapturedAt, Description: "high memory usage"})
		}
	}
	return out
}

func series(snaps []*model.Snapshot, f func(*model.Snapshot) float64) []float64 {
	out := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		if s != nil {
			out = append(out, f(s))
		}
	}
	return out
}

// step returns the minimum first-to-last change that is not Stable.
type step func(values []float64) float64

func absolute(d float64) step { return func([]float64) float64 { return d } }

func relative(frac float64) step {
	return func(values []float64) float64 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		return frac * sum / float64(len(values))
	}
}

func analyze(metric string, values []float64, threshold step) TrendAnalysis {
	a := TrendAnalysis{Metric: metric, Trend: Unknown, Samples: len(values)}
	n := len(values)
	if n < 2 {
		return a
	}

	first, last := values[0], values[n-1]
	switch diff, t := last-first, threshold(values); {
	case diff > t:
		a.Trend = Increasing
	case diff < -t:
		a.Trend = Decreasing
	default:
		a.Trend = Stable
	}
	a.Confidence = min(float64(n)/fullConfidence, 1)
	next := last + (last - values[n-2])
	a.Prediction = &next
	return a
}
