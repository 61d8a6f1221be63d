package sampler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Dicklesworthstone/zek/internal/model"
)

func (r *HostReader) batteries() []model.Battery {
	paths, _ := filepath.Glob(filepath.Join(r.sysRoot, "class/power_supply/BAT*/capacity"))
	var out []model.Battery
	for _, capPath := range paths {
		base := filepath.Dir(capPath)
		capBytes, err := os.ReadFile(capPath)
		if err != nil {
			continue
		}
		b := model.Battery{
			Name:          filepath.Base(base),
			ChargePercent: parseFloat(string(capBytes)),
			State:         batteryState(readTrimmed(filepath.Join(base, "status"))),
		}
		b.HealthPercent = batteryHealth(base)
		out = append(out, b)
	}
	return out
}

func batteryState(status string) model.BatteryState {
	switch strings.ToLower(status) {
	case "charging":
		return model.BatteryCharging
	case "discharging":
		return model.BatteryDischarging
	case "full":
		return model.BatteryFull
	}
	return model.BatteryUnknown
}

// batteryHealth compares full capacity against design capacity. Drivers
// expose either energy_* (µWh) or charge_* (µAh) files.
func batteryHealth(base string) float64 {
	for _, prefix := range []string{"energy", "charge"} {
		full := parseFloat(readTrimmed(filepath.Join(base, prefix+"_full")))
		design := parseFloat(readTrimmed(filepath.Join(base, prefix+"_full_design")))
		if design > 0 && full > 0 {
			return 100 * full / design
		}
	}
	return 0
}

// thermalZones is the fallback when hwmon reports nothing.
func (r *HostReader) thermalZones() []model.Sensor {
	paths, _ := filepath.Glob(filepath.Join(r.sysRoot, "class/thermal/thermal_zone*/temp"))
	var out []model.Sensor
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		dir := filepath.Dir(p)
		zone := filepath.Base(dir)
		label := readTrimmed(filepath.Join(dir, "type"))
		if label == "" {
			label = zone
		}
		out = append(out, model.Sensor{
			Key:         zone,
			Label:       label,
			Temperature: parseFloat(string(b)) / 1000,
		})
	}
	return out
}

var containerPatterns = []struct {
	runtime string
	re      *regexp.Regexp
}{
	{"docker", regexp.MustCompile(`docker[-/]([0-9a-f]{64})`)},
	{"containerd", regexp.MustCompile(`cri-containerd[-:]([0-9a-f]{64})`)},
	{"podman", regexp.MustCompile(`libpod-([0-9a-f]{64})`)},
	{"crio", regexp.MustCompile(`crio-([0-9a-f]{64})`)},
}

// parseContainer extracts runtime and container id from a cgroup path.
func parseContainer(cgroupPath string) (runtime, id string, ok bool) {
	for _, p := range containerPatterns {
		if m := p.re.FindStringSubmatch(cgroupPath); m != nil {
			return p.runtime, m[1], true
		}
	}
	return "", "", false
}

// containers groups processes by the container cgroup they run in.
func (r *HostReader) containers(procs []model.RawProcess) []model.Container {
	r.cacheTick++
	if r.cacheTick%cgroupCacheTicks == 0 {
		r.cgroupCache = make(map[int32]string)
	}

	byID := make(map[string]*model.Container)
	for _, p := range procs {
		cg, err := r.readProcCgroup(p.PID)
		if err != nil {
			continue
		}
		runtime, id, ok := parseContainer(cg)
		if !ok {
			continue
		}
		c, ok := byID[id]
		if !ok {
			c = &model.Container{
				ID:               id,
				Name:             id[:12],
				Runtime:          runtime,
				State:            model.ContainerRunning,
				MemoryLimitBytes: r.cgroupMemoryLimit(cg),
			}
			byID[id] = c
		}
		c.CPUPercent += p.CPUPercent
		c.MemoryBytes += p.MemoryBytes
		c.Processes++
	}

	out := make([]model.Container, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// readProcCgroup returns the path of the unified (or first) cgroup entry.
func (r *HostReader) readProcCgroup(pid int32) (string, error) {
	if v, ok := r.cgroupCache[pid]; ok {
		return v, nil
	}
	f, err := os.Open(filepath.Join(r.procRoot, strconv.Itoa(int(pid)), "cgroup"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var first string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" {
			first = parts[2]
			break
		}
		if first == "" {
			first = parts[2]
		}
	}
	if first == "" {
		return "", fmt.Errorf("no cgroup for pid %d", pid)
	}
	r.cgroupCache[pid] = first
	return first, nil
}

// cgroupMemoryLimit reads memory.max (v2) or memory.limit_in_bytes (v1).
// "max" and missing files mean no limit.
func (r *HostReader) cgroupMemoryLimit(cgroupPath string) uint64 {
	candidates := []string{
		filepath.Join(r.sysRoot, "fs/cgroup", cgroupPath, "memory.max"),
		filepath.Join(r.sysRoot, "fs/cgroup/memory", cgroupPath, "memory.limit_in_bytes"),
	}
	for _, p := range candidates {
		s := readTrimmed(p)
		if s == "" || s == "max" {
			continue
		}
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			return v
		}
	}
	return 0
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
