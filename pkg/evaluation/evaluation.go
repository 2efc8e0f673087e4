package evaluation

import (
	"sync"

	"github.com/sorrycc/elasticdl/pkg/task"
)

// Service is the evaluation collaborator boundary. AddTaskIfNeeded is
// called by the master after every model update; ReportMetrics
// returns whether the reported metrics were accepted; Metrics returns
// everything recorded for a version.
type Service interface {
	AddTaskIfNeeded(version int64)
	ReportMetrics(version int64, metrics map[string]float64) bool
	Metrics(version int64) map[string]float64
}

// IntervalService schedules one evaluation task every steps model
// versions, pinned to the version that triggered it.
type IntervalService struct {
	mu          sync.Mutex
	queue       *task.Queue
	steps       int64
	lastVersion int64
	metrics     map[int64]map[string]float64
}

func NewIntervalService(queue *task.Queue, steps int64) *IntervalService {
	return &IntervalService{
		queue:   queue,
		steps:   steps,
		metrics: make(map[int64]map[string]float64),
	}
}

func (s *IntervalService) AddTaskIfNeeded(version int64) {
	if s.steps <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if version < s.lastVersion+s.steps {
		return
	}
	s.lastVersion = version
	s.queue.Add(task.Task{
		Type:         task.Evaluation,
		ModelVersion: version,
	})
}

// ReportMetrics records metrics for a version. Reports for versions
// no evaluation task was scheduled at are still accepted; the master
// layer has already screened stale model versions.
func (s *IntervalService) ReportMetrics(version int64, metrics map[string]float64) bool {
	if len(metrics) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged, ok := s.metrics[version]
	if !ok {
		merged = make(map[string]float64, len(metrics))
		s.metrics[version] = merged
	}
	for name, value := range metrics {
		merged[name] = value
	}

	return true
}

// Metrics returns the metrics recorded for a version.
func (s *IntervalService) Metrics(version int64) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.metrics[version]
}
