package uploader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/logger"
)

// TaskState is the queue-visible lifecycle of one upload task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskUploading TaskState = "uploading"
	TaskPaused    TaskState = "paused"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

var (
	ErrTaskNotFound  = errors.New("upload task not found")
	ErrTaskNotActive = errors.New("upload task not in a state that allows this")
)

// RetryPolicy is the backoff table for interrupted transfers.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// DefaultRetryPolicy retries up to five times, with the delays growing from
// immediate to half a minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     []time.Duration{0, time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second},
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// Task is one file's journey through the queue. All fields are guarded by
// the queue mutex; TaskView copies are what callers get.
type Task struct {
	id         string
	sourcePath string
	fileName   string
	totalBytes int64

	state     TaskState
	bytesSent int64
	attempt   int
	videoID   string
	lastErr   error

	// networkPaused distinguishes a SetOnline(false) pause from a user
	// pause so connectivity returning can resume only the former.
	networkPaused bool

	// gen identifies the upload goroutine that currently owns the task.
	// A goroutine whose gen is stale must not decide the task's fate: the
	// task was paused and resumed (or retried) while it was winding down.
	gen int64

	transfer *Transfer
	cancel   context.CancelFunc

	sampledAt    time.Time
	sampledBytes int64
	bytesPerSec  float64
}

// TaskView is an immutable snapshot of a task.
type TaskView struct {
	ID          string    `json:"id"`
	SourcePath  string    `json:"source_path"`
	FileName    string    `json:"file_name"`
	TotalBytes  int64     `json:"total_bytes"`
	BytesSent   int64     `json:"bytes_sent"`
	State       TaskState `json:"state"`
	Attempt     int       `json:"attempt"`
	VideoID     string    `json:"video_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	BytesPerSec float64   `json:"bytes_per_sec"`
}

// TransferFactory builds the transfer for one task; tests substitute fakes.
type TransferFactory func() *Transfer

// Queue admits queued uploads in FIFO order up to a concurrency ceiling.
// Each Queue owns its task registry outright; two queues never share state.
type Queue struct {
	newTransfer TransferFactory
	policy      RetryPolicy
	maxActive   int
	logger      logger.Logger

	mu      sync.Mutex
	tasks   map[string]*Task
	pending []string
	active  map[string]struct{}
	online  bool
	closed  bool

	wg sync.WaitGroup
}

func NewQueue(newTransfer TransferFactory, policy RetryPolicy, maxConcurrent int, log logger.Logger) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Queue{
		newTransfer: newTransfer,
		policy:      policy,
		maxActive:   maxConcurrent,
		logger:      log,
		tasks:       make(map[string]*Task),
		active:      make(map[string]struct{}),
		online:      true,
	}
}

// Enqueue registers a file for upload and returns the task id.
func (q *Queue) Enqueue(sourcePath, fileName string, totalBytes int64) string {
	task := &Task{
		id:         uuid.New().String(),
		sourcePath: sourcePath,
		fileName:   fileName,
		totalBytes: totalBytes,
		state:      TaskQueued,
	}

	q.mu.Lock()
	q.tasks[task.id] = task
	q.pending = append(q.pending, task.id)
	q.mu.Unlock()

	q.dispatch()
	return task.id
}

// Pause takes a queued or uploading task out of rotation. An uploading task
// stops at its next chunk boundary.
func (q *Queue) Pause(taskID string) error {
	q.mu.Lock()
	task, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	switch task.state {
	case TaskQueued:
		q.removePending(taskID)
		task.state = TaskPaused
		task.networkPaused = false
		q.mu.Unlock()
		return nil
	case TaskUploading:
		task.state = TaskPaused
		task.networkPaused = false
		transfer := task.transfer
		q.mu.Unlock()
		if transfer != nil {
			transfer.Abort()
		}
		return nil
	default:
		q.mu.Unlock()
		return ErrTaskNotActive
	}
}

// Resume puts a paused task back at the end of the queue.
func (q *Queue) Resume(taskID string) error {
	q.mu.Lock()
	task, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.state != TaskPaused {
		q.mu.Unlock()
		return ErrTaskNotActive
	}
	task.state = TaskQueued
	task.networkPaused = false
	q.pending = append(q.pending, taskID)
	q.mu.Unlock()

	q.dispatch()
	return nil
}

// Cancel drops a task for good. A task is in at most one of pending/active,
// so removing it from both sides here is what keeps that invariant.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	task, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.state == TaskCompleted || task.state == TaskCancelled {
		q.mu.Unlock()
		return ErrTaskNotActive
	}
	q.removePending(taskID)
	task.state = TaskCancelled
	transfer, cancel := task.transfer, task.cancel
	q.mu.Unlock()

	if transfer != nil {
		transfer.Abort()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Retry re-queues a failed task with a fresh attempt budget.
func (q *Queue) Retry(taskID string) error {
	q.mu.Lock()
	task, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.state != TaskFailed {
		q.mu.Unlock()
		return ErrTaskNotActive
	}
	task.state = TaskQueued
	task.attempt = 0
	task.lastErr = nil
	q.pending = append(q.pending, taskID)
	q.mu.Unlock()

	q.dispatch()
	return nil
}

// SetOnline flips the connectivity signal. Going offline pauses every
// uploading task at its chunk boundary; coming back online re-queues exactly
// the tasks the offline transition paused.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	if q.online == online {
		q.mu.Unlock()
		return
	}
	q.online = online

	if !online {
		var aborting []*Transfer
		for _, task := range q.tasks {
			if task.state == TaskUploading {
				task.state = TaskPaused
				task.networkPaused = true
				if task.transfer != nil {
					aborting = append(aborting, task.transfer)
				}
			}
		}
		q.mu.Unlock()
		for _, tr := range aborting {
			tr.Abort()
		}
		return
	}

	for id, task := range q.tasks {
		if task.state == TaskPaused && task.networkPaused {
			task.state = TaskQueued
			task.networkPaused = false
			q.pending = append(q.pending, id)
		}
	}
	q.mu.Unlock()
	q.dispatch()
}

// Task returns a snapshot of one task.
func (q *Queue) Task(taskID string) (TaskView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return TaskView{}, ErrTaskNotFound
	}
	return task.view(), nil
}

// Tasks returns snapshots of every registered task.
func (q *Queue) Tasks() []TaskView {
	q.mu.Lock()
	defer q.mu.Unlock()
	views := make([]TaskView, 0, len(q.tasks))
	for _, task := range q.tasks {
		views = append(views, task.view())
	}
	return views
}

// Close stops admitting work and waits for running transfers to stop at
// their next chunk boundary.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	var aborting []*Transfer
	for _, task := range q.tasks {
		if task.state == TaskUploading && task.transfer != nil {
			aborting = append(aborting, task.transfer)
		}
	}
	q.mu.Unlock()

	for _, tr := range aborting {
		tr.Abort()
	}
	q.wg.Wait()
}

// dispatch promotes queued tasks into the active set while capacity allows.
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.online {
		return
	}
	var deferred []string
	for len(q.active) < q.maxActive && len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		task, ok := q.tasks[id]
		if !ok || task.state != TaskQueued {
			continue
		}
		if _, running := q.active[id]; running {
			// The previous attempt's goroutine has not left the active set
			// yet; it re-dispatches on exit, which picks this id back up.
			deferred = append(deferred, id)
			continue
		}
		task.state = TaskUploading
		task.gen++
		q.active[id] = struct{}{}

		ctx, cancel := context.WithCancel(context.Background())
		task.cancel = cancel

		q.wg.Add(1)
		go q.runTask(ctx, task, task.gen)
	}
	q.pending = append(deferred, q.pending...)
}

func (q *Queue) runTask(ctx context.Context, task *Task, gen int64) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		delete(q.active, task.id)
		q.mu.Unlock()
		q.dispatch()
	}()

	transfer := q.newTransfer()
	q.mu.Lock()
	task.transfer = transfer
	task.sampledAt = time.Now()
	task.sampledBytes = task.bytesSent
	fileName, sourcePath, totalBytes := task.fileName, task.sourcePath, task.totalBytes
	q.mu.Unlock()

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for ev := range transfer.Progress() {
			q.observeProgress(task, ev)
		}
	}()

	err := q.runAttempts(ctx, task, transfer, sourcePath, fileName, totalBytes)
	transfer.Close()
	<-progressDone

	q.mu.Lock()
	if task.gen == gen {
		task.transfer = nil
		task.cancel = nil
	}
	switch {
	case task.gen != gen:
		// A resume already handed the task to a newer attempt.
	case task.state != TaskUploading:
		// Pause, cancel, or connectivity loss interrupted the transfer,
		// or a resume re-queued it; the task keeps its confirmed offset
		// and its already-decided state.
	case err == nil:
		task.state = TaskCompleted
		task.bytesSent = totalBytes
	default:
		task.state = TaskFailed
		task.lastErr = err
	}
	q.mu.Unlock()
}

func (q *Queue) runAttempts(ctx context.Context, task *Task, transfer *Transfer, sourcePath, fileName string, totalBytes int64) error {
	uploadID := task.id
	if err := transfer.Open(ctx, uploadID, sourcePath, fileName, totalBytes); err != nil {
		return err
	}

	for {
		q.mu.Lock()
		state := task.state
		q.mu.Unlock()
		if state != TaskUploading {
			// A pause or cancel landed before Abort could reach the
			// transfer (Open resets the abort flag); stop here instead.
			return &InterruptedError{Offset: transfer.CurrentOffset(), Err: ErrAborted}
		}

		videoID, err := transfer.SendFrom(ctx)
		if err == nil {
			q.mu.Lock()
			task.videoID = videoID
			q.mu.Unlock()
			return nil
		}

		var interrupted *InterruptedError
		if !errors.As(err, &interrupted) {
			return err
		}
		q.syncOffset(task, interrupted.Offset)
		if errors.Is(interrupted.Err, ErrAborted) || ctx.Err() != nil {
			return err
		}

		q.mu.Lock()
		task.attempt++
		attempt := task.attempt
		q.mu.Unlock()
		if attempt >= q.policy.MaxAttempts {
			return err
		}

		delay := q.policy.delay(attempt)
		q.logger.Warnf("upload %s interrupted at %d, retrying in %s: %v",
			uploadID, interrupted.Offset, delay, interrupted.Err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (q *Queue) observeProgress(task *Task, ev ProgressEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ev.BytesSent > task.bytesSent {
		task.bytesSent = ev.BytesSent
	}
	now := time.Now()
	if elapsed := now.Sub(task.sampledAt); elapsed >= time.Second {
		task.bytesPerSec = float64(task.bytesSent-task.sampledBytes) / elapsed.Seconds()
		task.sampledAt = now
		task.sampledBytes = task.bytesSent
	}
}

func (q *Queue) syncOffset(task *Task, offset int64) {
	q.mu.Lock()
	if offset > task.bytesSent {
		task.bytesSent = offset
	}
	q.mu.Unlock()
}

// removePending drops taskID from the FIFO. Caller holds the lock.
func (q *Queue) removePending(taskID string) {
	for i, id := range q.pending {
		if id == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (t *Task) view() TaskView {
	v := TaskView{
		ID:          t.id,
		SourcePath:  t.sourcePath,
		FileName:    t.fileName,
		TotalBytes:  t.totalBytes,
		BytesSent:   t.bytesSent,
		State:       t.state,
		Attempt:     t.attempt,
		VideoID:     t.videoID,
		BytesPerSec: t.bytesPerSec,
	}
	if t.lastErr != nil {
		v.Error = t.lastErr.Error()
	}
	return v
}
