package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/zek/internal/model"
)

// Styles
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	activeTab   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("16")).Background(lipgloss.Color("45")).Padding(0, 1)
	inactiveTab = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	gaugeFill   = "█"
	gaugeEmpty  = "░"
	sparkRunes  = []rune("▁▂▃▄▅▆▇█")
	cardStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).
			Padding(0, 1).
			MarginRight(1)
)

// chrome is the number of lines taken by the header, tab bar and footer.
const chrome = 6

func (m *Model) View() string {
	header := titleStyle.Render("zek")
	if m.latest != nil {
		header += "  " + subtleStyle.Render(m.latest.Time().Format("Mon Jan 2 15:04:05 MST 2006"))
		if h := m.latest.Host.Hostname; h != "" {
			header += "  " + subtleStyle.Render(h)
		}
	}

	var body string
	switch {
	case m.latest == nil:
		body = subtleStyle.Render("waiting for first sample…")
	case m.tab == tabProcesses:
		body = m.viewProcesses()
	case m.tab == tabTree:
		body = m.viewTree()
	case m.tab == tabDevices:
		body = m.viewDevices()
	default:
		body = m.viewOverview()
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewTabs(), body, m.help.View(keys))
}

func (m *Model) viewTabs() string {
	parts := make([]string, 0, len(tabNames))
	for i, name := range tabNames {
		label := fmt.Sprintf("%d %s", i+1, name)
		if tab(i) == m.tab {
			parts = append(parts, activeTab.Render(label))
		} else {
			parts = append(parts, inactiveTab.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) viewOverview() string {
	s := m.latest

	cpuCard := card("CPU",
		fmt.Sprintf("%s  load %.2f %.2f %.2f\n%s",
			gaugeBar(s.CPUTotalPercent, 28),
			s.Load1, s.Load5, s.Load15,
			sparkline(m.cpu, 40)))

	memCard := card("Memory",
		fmt.Sprintf("%s  %.1f/%.1f GiB | Swap %3.0f%%",
			gaugeBar(s.MemoryPercent(), 28),
			bytesToGiB(s.MemoryUsedBytes),
			bytesToGiB(s.MemoryTotalBytes),
			s.SwapPercent()))

	var rx, tx, rd, wr float64
	for _, n := range s.Interfaces {
		rx += n.RxThroughputBps
		tx += n.TxThroughputBps
	}
	for _, d := range s.Volumes {
		rd += d.ReadThroughputBps
		wr += d.WriteThroughputBps
	}
	ioCard := card("IO / NET",
		fmt.Sprintf("Disk R/W: %s / %s\nNet RX/TX: %s / %s",
			rate(rd), rate(wr), rate(rx), rate(tx)))

	volumes := make([]string, 0, len(s.Volumes))
	for _, d := range s.Volumes {
		volumes = append(volumes, fmt.Sprintf("%-14s %s", truncate(d.MountPoint, 14), gaugeBar(d.UsagePercent, 16)))
	}
	diskCard := ""
	if len(volumes) > 0 {
		diskCard = card("Volumes", strings.Join(volumes, "\n"))
	}

	top := make([]string, 0, len(s.TopProcesses)+1)
	top = append(top, fmt.Sprintf("%-18s %-7s %6s %9s", "cmd", "pid", "cpu", "mem"))
	for _, p := range s.TopProcesses {
		top = append(top, fmt.Sprintf("%-18s %-7d %6.1f %9s", truncate(p.Name, 18), p.PID, p.CPUPercent, size(p.MemoryBytes)))
	}
	topCard := card(fmt.Sprintf("Top CPU (%d procs)", s.ProcessCount), strings.Join(top, "\n"))

	line1 := lipgloss.JoinHorizontal(lipgloss.Top, cpuCard, memCard, ioCard)
	line2 := lipgloss.JoinHorizontal(lipgloss.Top, topCard, diskCard)
	return lipgloss.JoinVertical(lipgloss.Left, line1, line2)
}

func (m *Model) viewProcesses() string {
	procs := m.processes()
	rows := make([]string, 0, len(procs))
	for _, p := range procs {
		rows = append(rows, fmt.Sprintf("%-24s %-7d %6.1f %9s", truncate(p.Name, 24), p.PID, p.CPUPercent, size(p.MemoryBytes)))
	}
	title := fmt.Sprintf("Processes by %s", m.sortBy)
	if m.filter != nil {
		title += fmt.Sprintf(" matching /%s/", m.filter)
	}
	head := fmt.Sprintf("%-24s %-7s %6s %9s", "cmd", "pid", "cpu", "mem")
	return card(title, head+"\n"+m.page(rows))
}

func (m *Model) viewTree() string {
	var rows []string
	for i := range m.latest.ProcessForest {
		rows = treeLines(rows, &m.latest.ProcessForest[i], "", true, true)
	}
	return card(fmt.Sprintf("Process tree (%d roots)", len(m.latest.ProcessForest)), m.page(rows))
}

func treeLines(rows []string, n *model.ProcessNode, prefix string, last, root bool) []string {
	branch, next := "", prefix
	if !root {
		if last {
			branch, next = "└─ ", prefix+"   "
		} else {
			branch, next = "├─ ", prefix+"│  "
		}
	}
	rows = append(rows, fmt.Sprintf("%s%s%s (%d) %.1f%%", prefix, branch, n.Name, n.PID, n.CPUPercent))
	for i := range n.Children {
		rows = treeLines(rows, &n.Children[i], next, i == len(n.Children)-1, false)
	}
	return rows
}

func (m *Model) viewDevices() string {
	s := m.latest
	var cards []string

	if len(s.Sensors) > 0 {
		rows := make([]string, 0, len(s.Sensors))
		for _, t := range s.Sensors {
			rows = append(rows, fmt.Sprintf("%-20s %5.1f°C", truncate(t.Label, 20), t.Temperature))
		}
		cards = append(cards, card("Sensors", strings.Join(rows, "\n")))
	}
	if len(s.GPUs) > 0 {
		rows := make([]string, 0, len(s.GPUs))
		for _, g := range s.GPUs {
			rows = append(rows, fmt.Sprintf("%s %4.0f%% mem:%s/%s %2.0f°C",
				truncate(g.Name, 14), g.UsagePercent, size(g.MemoryUsedBytes), size(g.MemoryTotalBytes), g.Temperature))
		}
		cards = append(cards, card("GPU", strings.Join(rows, "\n")))
	}
	if len(s.Batteries) > 0 {
		rows := make([]string, 0, len(s.Batteries))
		for _, b := range s.Batteries {
			rows = append(rows, fmt.Sprintf("%s %3.0f%% (%s) health %3.0f%%", b.Name, b.ChargePercent, b.State, b.HealthPercent))
		}
		cards = append(cards, card("Battery", strings.Join(rows, "\n")))
	}
	if len(s.Containers) > 0 {
		rows := make([]string, 0, len(s.Containers))
		for _, c := range s.Containers {
			rows = append(rows, fmt.Sprintf("%-12s %-10s %5.1f%% %9s %3d procs", c.Name, c.Runtime, c.CPUPercent, size(c.MemoryBytes), c.Processes))
		}
		cards = append(cards, card("Containers", strings.Join(rows, "\n")))
	}
	if len(s.Connections) > 0 {
		counts := map[string]int{}
		for _, c := range s.Connections {
			counts[c.Protocol+" "+c.State]++
		}
		labels := make([]string, 0, len(counts))
		for k := range counts {
			labels = append(labels, k)
		}
		sort.Strings(labels)
		rows := make([]string, 0, len(labels))
		for _, k := range labels {
			rows = append(rows, fmt.Sprintf("%-20s %5d", k, counts[k]))
		}
		cards = append(cards, card("Connections", strings.Join(rows, "\n")))
	}

	if len(cards) == 0 {
		return subtleStyle.Render("no sensors, GPUs, batteries, containers or connections reported")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

// page returns the rows visible at the current scroll offset.
func (m *Model) page(rows []string) string {
	height := max(m.height-chrome-4, 1)
	if m.scroll > len(rows)-1 {
		m.scroll = max(len(rows)-1, 0)
	}
	end := min(m.scroll+height, len(rows))
	if m.scroll >= end {
		return ""
	}
	return strings.Join(rows[m.scroll:end], "\n")
}

// Helpers
func gaugeBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := min(int((pct/100)*float64(width)), width)
	return fmt.Sprintf("[%s%s] %5.1f%%",
		strings.Repeat(gaugeFill, filled),
		strings.Repeat(gaugeEmpty, width-filled),
		pct)
}

// sparkline renders the last width values on a 0..100 scale.
func sparkline(values []float64, width int) string {
	if len(values) > width {
		values = values[len(values)-width:]
	}
	out := make([]rune, 0, len(values))
	for _, v := range values {
		i := int(v / 100 * float64(len(sparkRunes)-1))
		i = max(0, min(i, len(sparkRunes)-1))
		out = append(out, sparkRunes[i])
	}
	return string(out)
}

func card(title, body string) string {
	titleStr := labelStyle.Render(title)
	content := titleStr + "\n" + body
	return cardStyle.Render(content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func bytesToGiB(b uint64) float64 { return float64(b) / (1024 * 1024 * 1024) }

// size formats b with a binary unit.
func size(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTP"[exp])
}

func rate(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	return size(uint64(bps)) + "/s"
}
