package server

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

type archiveJob struct {
	task     *domain.Task
	deletion *taskDeletion
	activity *domain.Activity
}

type taskDeletion struct {
	boardID string
	taskID  string
}

// AsyncArchiver decouples archive writes from the fan-out path. Jobs are
// handed to a bounded worker pool; when the buffer is full the job is
// dropped and logged rather than blocking the hub.
type AsyncArchiver struct {
	base    Archiver
	logger  *log.Logger
	jobs    chan archiveJob
	wg      sync.WaitGroup
	timeout time.Duration

	closeOnce sync.Once
}

// NewAsyncArchiver starts workers draining writes into base.
func NewAsyncArchiver(base Archiver, workers, buffer int, logger *log.Logger) *AsyncArchiver {
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	a := &AsyncArchiver{
		base:    base,
		logger:  logger,
		jobs:    make(chan archiveJob, buffer),
		timeout: time.Minute,
	}
	a.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go a.worker()
	}
	return a
}

func (a *AsyncArchiver) worker() {
	defer a.wg.Done()
	for job := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		var err error
		switch {
		case job.task != nil:
			err = a.base.SaveTask(ctx, *job.task)
		case job.deletion != nil:
			err = a.base.DeleteTask(ctx, job.deletion.boardID, job.deletion.taskID)
		case job.activity != nil:
			err = a.base.AppendActivity(ctx, *job.activity)
		}
		cancel()
		if err != nil {
			a.logger.WithError(err).Warn("async archive write failed")
		}
	}
}

func (a *AsyncArchiver) enqueue(job archiveJob) {
	select {
	case a.jobs <- job:
	default:
		a.logger.Warn("archive buffer full, write dropped")
	}
}

// SaveTask queues the write; it never blocks the caller.
func (a *AsyncArchiver) SaveTask(_ context.Context, task domain.Task) error {
	a.enqueue(archiveJob{task: &task})
	return nil
}

// DeleteTask queues the deletion; it never blocks the caller.
func (a *AsyncArchiver) DeleteTask(_ context.Context, boardID, taskID string) error {
	a.enqueue(archiveJob{deletion: &taskDeletion{boardID: boardID, taskID: taskID}})
	return nil
}

// AppendActivity queues the append; it never blocks the caller.
func (a *AsyncArchiver) AppendActivity(_ context.Context, activity domain.Activity) error {
	a.enqueue(archiveJob{activity: &activity})
	return nil
}

// Close stops accepting jobs and waits for queued writes to drain.
func (a *AsyncArchiver) Close() {
	a.closeOnce.Do(func() {
		close(a.jobs)
	})
	a.wg.Wait()
}
