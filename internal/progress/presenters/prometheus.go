package presenters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

// Prometheus exports task progress as Prometheus collectors. Collectors are
// registered once, so a single instance is shared by every session.
type Prometheus struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	taskRuntime    *prometheus.HistogramVec
	unitsDone      prometheus.Counter

	tracker *taskTracker
}

// NewPrometheus registers the collectors against the provided registry.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progressrelay_tasks_started_total",
			Help: "Total tasks that reported a first update.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progressrelay_tasks_completed_total",
			Help: "Total tasks completed partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "progressrelay_tasks_running",
			Help: "Tasks that started and have not finished.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progressrelay_task_runtime_seconds",
			Help:    "Wall time between a task's first and last update.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		}, []string{"result"}),
		unitsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progressrelay_task_units_total",
			Help: "Units of work completed across all tasks.",
		}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		p.tasksStarted,
		p.tasksCompleted,
		p.tasksRunning,
		p.taskRuntime,
		p.unitsDone,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return p, nil
}

// Present updates the collectors from evt.
func (p *Prometheus) Present(_ context.Context, evt progress.Event) error {
	delta, started, begun := p.tracker.advance(evt)
	if begun {
		p.tasksStarted.Inc()
		p.tasksRunning.Inc()
	}
	if delta > 0 {
		p.unitsDone.Add(float64(delta))
	}
	if !evt.Last {
		return nil
	}
	result := "success"
	if evt.Note != "" {
		result = "error"
	}
	p.tasksCompleted.WithLabelValues(result).Inc()
	if !started.IsZero() && evt.TS.After(started) {
		p.taskRuntime.WithLabelValues(result).Observe(evt.TS.Sub(started).Seconds())
	}
	if p.tracker.complete(evt.TaskID) {
		p.tasksRunning.Dec()
	}
	return nil
}

// Close forgets tasks that never finished in the ending session.
func (p *Prometheus) Close(context.Context) error {
	p.tasksRunning.Sub(float64(p.tracker.reset()))
	return nil
}

type taskState struct {
	done    int64
	started time.Time
}

type taskTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]*taskState
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[uuid.UUID]*taskState)}
}

// advance records evt and returns the units gained, the task's start time and
// whether this event began tracking the task.
func (t *taskTracker) advance(evt progress.Event) (int64, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.running[evt.TaskID]
	if !ok {
		st = &taskState{started: evt.TS}
		t.running[evt.TaskID] = st
	}
	delta := evt.Done - st.done
	if delta < 0 {
		delta = 0
	}
	if evt.Done > st.done {
		st.done = evt.Done
	}
	return delta, st.started, !ok
}

func (t *taskTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

func (t *taskTracker) reset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.running)
	t.running = make(map[uuid.UUID]*taskState)
	return n
}
