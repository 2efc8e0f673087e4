package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sorrycc/elasticdl/pkg/errors"
)

type assignment struct {
	task     Task
	workerID string
}

// Queue hands out shard tasks to workers and tracks which worker is
// doing what. Failed or abandoned tasks go back to the todo list so
// another worker picks them up.
type Queue struct {
	mu    sync.Mutex
	todo  []Task
	doing map[string]assignment
}

func NewQueue(tasks ...Task) *Queue {
	q := &Queue{
		doing: make(map[string]assignment),
	}
	for _, t := range tasks {
		q.add(t)
	}

	return q
}

func (q *Queue) add(t Task) string {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	q.todo = append(q.todo, t)

	return t.ID
}

// Add queues a task and returns its ID.
func (q *Queue) Add(t Task) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.add(t)
}

// Get pops the next todo task and records it as doing by workerID.
func (q *Queue) Get(workerID string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.todo) == 0 {
		return Task{}, false
	}
	t := q.todo[0]
	q.todo = q.todo[1:]
	q.doing[t.ID] = assignment{task: t, workerID: workerID}

	return t, true
}

// Report marks a doing task done or, on failure, puts it back on the
// todo list.
func (q *Queue) Report(taskID string, ok bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, found := q.doing[taskID]
	if !found {
		return fmt.Errorf("%w: task %s", errors.ErrNotFound, taskID)
	}
	delete(q.doing, taskID)
	if !ok {
		q.todo = append(q.todo, a.task)
	}

	return nil
}

// Finished reports whether all tasks have been handed out and done.
func (q *Queue) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.todo) == 0 && len(q.doing) == 0
}

// RecoverWorker re-queues every task assigned to a dead worker and
// returns how many were recovered.
func (q *Queue) RecoverWorker(workerID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	recovered := 0
	for id, a := range q.doing {
		if a.workerID != workerID {
			continue
		}
		delete(q.doing, id)
		q.todo = append(q.todo, a.task)
		recovered++
	}

	return recovered
}
