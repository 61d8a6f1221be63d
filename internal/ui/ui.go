// Package ui is the terminal dashboard. It polls its own subscription a few
// times per second and renders the newest snapshot; it never blocks the
// sampling loop.
package ui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/zek/internal/broker"
	"github.com/Dicklesworthstone/zek/internal/config"
	"github.com/Dicklesworthstone/zek/internal/model"
)

// Source is the part of the supervisor the dashboard uses.
type Source interface {
	Subscribe() *broker.Subscription
	Latest() *model.Snapshot
}

type tab int

const (
	tabOverview tab = iota
	tabProcesses
	tabTree
	tabDevices
	tabCount
)

var tabNames = [tabCount]string{"Overview", "Processes", "Tree", "Devices"}

const cpuHistoryLen = 60

// Model renders live snapshots from a subscription.
type Model struct {
	sub    *broker.Subscription
	latest *model.Snapshot
	cpu    []float64 // recent CPU totals for the sparkline

	sortBy string
	filter *regexp.Regexp
	tab    tab
	scroll int

	help   help.Model
	width  int
	height int
}

// New subscribes to src and seeds the view with its latest snapshot.
func New(src Source, cfg config.UIConfig) (*Model, error) {
	m := &Model{
		sub:    src.Subscribe(),
		sortBy: cfg.Sort,
		help:   help.New(),
		width:  120,
		height: 40,
	}
	if m.sortBy == "" {
		m.sortBy = "cpu"
	}
	if cfg.Filter != "" {
		re, err := regexp.Compile(cfg.Filter)
		if err != nil {
			m.sub.Close()
			return nil, fmt.Errorf("ui filter: %w", err)
		}
		m.filter = re
	}
	if s := src.Latest(); s != nil {
		m.observe(s)
	}
	return m, nil
}

type tickMsg struct{}

func tickCmd() tea.Cmd { return tea.Tick(time.Second/5, func(time.Time) tea.Msg { return tickMsg{} }) }

func (m *Model) Init() tea.Cmd { return tickCmd() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.sub.Close()
			return m, tea.Quit
		case key.Matches(msg, keys.NextTab):
			m.setTab((m.tab + 1) % tabCount)
		case key.Matches(msg, keys.PrevTab):
			m.setTab((m.tab + tabCount - 1) % tabCount)
		case key.Matches(msg, keys.Tab1):
			m.setTab(tabOverview)
		case key.Matches(msg, keys.Tab2):
			m.setTab(tabProcesses)
		case key.Matches(msg, keys.Tab3):
			m.setTab(tabTree)
		case key.Matches(msg, keys.Tab4):
			m.setTab(tabDevices)
		case key.Matches(msg, keys.ScrollDown):
			m.scroll++
		case key.Matches(msg, keys.ScrollUp):
			if m.scroll > 0 {
				m.scroll--
			}
		case key.Matches(msg, keys.GoTop):
			m.scroll = 0
		case key.Matches(msg, keys.Sort):
			if m.sortBy == "cpu" {
				m.sortBy = "mem"
			} else {
				m.sortBy = "cpu"
			}
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	case tickMsg:
		if s := m.sub.Latest(); s != nil {
			m.observe(s)
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m *Model) setTab(t tab) {
	m.tab = t
	m.scroll = 0
}

func (m *Model) observe(s *model.Snapshot) {
	m.latest = s
	m.cpu = append(m.cpu, s.CPUTotalPercent)
	if len(m.cpu) > cpuHistoryLen {
		m.cpu = m.cpu[len(m.cpu)-cpuHistoryLen:]
	}
}

// processes flattens the forest, applies the filter and sorts by the chosen
// column.
func (m *Model) processes() []model.ProcessNode {
	if m.latest == nil {
		return nil
	}
	var out []model.ProcessNode
	for i := range m.latest.ProcessForest {
		m.latest.ProcessForest[i].Walk(func(n *model.ProcessNode) {
			if m.filter != nil && !m.filter.MatchString(n.Name) {
				return
			}
			flat := *n
			flat.Children = nil
			out = append(out, flat)
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if m.sortBy == "mem" {
			return out[i].MemoryBytes > out[j].MemoryBytes
		}
		return out[i].CPUPercent > out[j].CPUPercent
	})
	return out
}

// Run starts the dashboard and blocks until the user quits or ctx is done.
func Run(ctx context.Context, src Source, cfg config.UIConfig) error {
	m, err := New(src, cfg)
	if err != nil {
		return err
	}
	defer m.sub.Close()

	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = prog.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
