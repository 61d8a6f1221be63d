package sampler

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/zek/internal/model"
)

const mib = 1024 * 1024

// gpus returns the cached nvidia-smi result, refreshing it at most every
// gpuRefresh so a slow driver cannot stretch every tick.
func (r *HostReader) gpus() []model.GPU {
	r.gpuMu.Lock()
	defer r.gpuMu.Unlock()

	if !r.gpuFetched.IsZero() && time.Since(r.gpuFetched) < gpuRefresh {
		return r.gpuData
	}
	r.gpuFetched = time.Now()

	out, err := r.runCmd(gpuTimeout, "nvidia-smi",
		"--query-gpu=name,utilization.gpu,memory.used,memory.total,temperature.gpu,fan.speed",
		"--format=csv,noheader,nounits")
	if err != nil {
		r.gap("gpu", err)
		r.gpuData = nil
		return nil
	}
	r.gpuData = parseNvidiaSMI(out)
	return r.gpuData
}

func parseNvidiaSMI(out string) []model.GPU {
	var gpus []model.GPU
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), ",")
		if len(parts) < 5 {
			continue
		}
		g := model.GPU{
			Name:             strings.TrimSpace(parts[0]),
			UsagePercent:     parseFloat(parts[1]),
			MemoryUsedBytes:  uint64(parseFloat(parts[2]) * mib),
			MemoryTotalBytes: uint64(parseFloat(parts[3]) * mib),
			Temperature:      parseFloat(parts[4]),
		}
		if len(parts) > 5 {
			g.FanSpeedPercent = parseFloat(parts[5])
		}
		gpus = append(gpus, g)
	}
	return gpus
}

// parseFloat tolerates the "[N/A]" and "%" decorations tools print; they
// read as zero.
func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func runCmd(timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", ctx.Err()
	}
	return string(out), err
}
