package alerts

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Dicklesworthstone/zek/internal/broker"
	"github.com/Dicklesworthstone/zek/internal/logger"
	"github.com/Dicklesworthstone/zek/internal/model"
)

var (
	ErrExists   = errors.New("alert already exists")
	ErrNotFound = errors.New("alert not found")
)

// Alert is a rule plus its current state.
type Alert struct {
	Rule          Rule     `json:"rule"`
	Triggered     bool     `json:"triggered"`
	LastTriggered *int64   `json:"last_triggered,omitempty"` // ms since epoch
	LastValue     *float64 `json:"last_value,omitempty"`
}

// Transition is emitted when a rule starts or stops holding.
type Transition struct {
	Rule      Rule    `json:"rule"`
	Triggered bool    `json:"triggered"`
	Value     float64 `json:"value"`
	At        int64   `json:"at"`
}

// Manager holds rules and evaluates them. Safe for concurrent use.
type Manager struct {
	logger *slog.Logger

	mu     sync.RWMutex
	alerts map[string]*Alert
}

// NewManager creates a manager and adds rules. The first invalid or
// duplicate rule aborts construction.
func NewManager(l *slog.Logger, rules ...Rule) (*Manager, error) {
	m := &Manager{
		logger: logger.OrDefault(l).With("component", "alerts"),
		alerts: make(map[string]*Alert),
	}
	for _, r := range rules {
		if err := m.Add(r); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add registers a rule.
func (m *Manager) Add(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	op, _ := ParseOperator(r.Operator)
	r.Operator = string(op)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[r.Key()]; ok {
		return fmt.Errorf("%w: %s", ErrExists, r.Key())
	}
	m.alerts[r.Key()] = &Alert{Rule: r}
	m.logger.Debug("alert added", "alert", r.Key())
	return nil
}

// Remove deletes the rule with the given key.
func (m *Manager) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.alerts, key)
	return nil
}

// Get returns a copy of one alert.
func (m *Manager) Get(key string) (Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[key]
	if !ok {
		return Alert{}, false
	}
	return *a, true
}

// List returns copies of every alert sorted by key.
func (m *Manager) List() []Alert {
	m.mu.RLock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Rule.Key() < out[j].Rule.Key() })
	return out
}

// Evaluate checks every enabled rule against snap and returns the rules that
// changed state, sorted by key. Rules whose metric is absent keep their state.
func (m *Manager) Evaluate(snap *model.Snapshot) []Transition {
	if snap == nil {
		return nil
	}
	values := Metrics(snap)

	m.mu.Lock()
	var changed []Transition
	for _, a := range m.alerts {
		if a.Rule.Disabled {
			continue
		}
		v, ok := values[a.Rule.Metric]
		if !ok {
			continue
		}
		a.LastValue = &v

		holds := Operator(a.Rule.Operator).Holds(v, a.Rule.Threshold)
		if holds == a.Triggered {
			continue
		}
		a.Triggered = holds
		if holds {
			at := snap.CapturedAt
			a.LastTriggered = &at
		}
		changed = append(changed, Transition{Rule: a.Rule, Triggered: holds, Value: v, At: snap.CapturedAt})
	}
	m.mu.Unlock()

	sort.Slice(changed, func(i, j int) bool { return changed[i].Rule.Key() < changed[j].Rule.Key() })
	for _, t := range changed {
		m.log(t)
	}
	return changed
}

func (m *Manager) log(t Transition) {
	if t.Triggered {
		m.logger.Warn("alert triggered",
			"alert", t.Rule.Name,
			"metric", t.Rule.Metric,
			"condition", fmt.Sprintf("%s %g", Operator(t.Rule.Operator).Symbol(), t.Rule.Threshold),
			"value", t.Value)
		return
	}
	m.logger.Info("alert resolved", "alert", t.Rule.Name, "metric", t.Rule.Metric, "value", t.Value)
}

// Watch evaluates every snapshot from sub until it closes. onChange, if
// set, receives each batch of transitions.
func (m *Manager) Watch(sub *broker.Subscription, onChange func([]Transition)) {
	for snap := range sub.C() {
		if changed := m.Evaluate(snap); len(changed) > 0 && onChange != nil {
			onChange(changed)
		}
	}
}
