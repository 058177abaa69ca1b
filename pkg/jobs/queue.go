package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/docbrain-ai/docbrain/pkg/config"
	"github.com/docbrain-ai/docbrain/pkg/observability"
	"github.com/docbrain-ai/docbrain/pkg/registry"
)

// ============================================================================
// QUEUE
// ============================================================================

// Queue is the durable task queue. Tasks are stored in SQL, claimed with a
// guarded UPDATE so multiple workers (or processes) never run the same task
// twice, and executed under a concurrency limit.
type Queue struct {
	store    *storage
	cfg      config.JobsConfig
	handlers *registry.BaseRegistry[Handler]
	sem      *semaphore.Weighted
	wake     chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	janitor *cron.Cron
}

// NewQueue creates a queue over an existing database connection. The
// connection is shared with the metadata store; the queue manages its own
// table.
func NewQueue(db *sql.DB, dialect config.DatabaseDriver, cfg config.JobsConfig) (*Queue, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid jobs config: %w", err)
	}

	store, err := newStorage(db, dialect)
	if err != nil {
		return nil, err
	}

	return &Queue{
		store:    store,
		cfg:      cfg,
		handlers: registry.NewBaseRegistry[Handler](),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		wake:     make(chan struct{}, 1),
	}, nil
}

// Register binds a handler to a task name. All handlers must be registered
// before Start.
func (q *Queue) Register(name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler for %q is nil", name)
	}
	return q.handlers.Register(name, handler)
}

// Handlers returns the registered task names.
func (q *Queue) Handlers() []string {
	return q.handlers.Names()
}

// Enqueue persists a task and wakes the dispatcher. Args may be nil, a
// map, or any JSON-serializable struct.
func (q *Queue) Enqueue(ctx context.Context, name string, args any) (string, error) {
	if name == "" {
		return "", fmt.Errorf("task name is required")
	}

	argMap, err := toArgMap(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode args for %q: %w", name, err)
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.NewString(),
		Name:        name,
		Args:        argMap,
		Status:      StatusPending,
		MaxAttempts: q.cfg.MaxRetries + 1,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.insert(ctx, task); err != nil {
		return "", err
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	slog.Debug("Task enqueued", "task", name, "id", task.ID)
	return task.ID, nil
}

// GetTask returns a task by id.
func (q *Queue) GetTask(ctx context.Context, id string) (*Task, error) {
	return q.store.get(ctx, id)
}

// ListTasks returns tasks, newest first, optionally filtered by status.
func (q *Queue) ListTasks(ctx context.Context, status Status, limit int) ([]*Task, error) {
	return q.store.list(ctx, status, limit)
}

// Start requeues tasks orphaned by a previous crash, then launches the
// dispatcher and the cleanup janitor.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already started")
	}

	requeued, err := q.store.requeueOrphans(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if requeued > 0 {
		slog.Info("Requeued orphaned tasks", "count", requeued)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	if q.cfg.JanitorSchedule != "" {
		janitor := cron.New()
		if _, err := janitor.AddFunc(q.cfg.JanitorSchedule, q.cleanup); err != nil {
			cancel()
			return fmt.Errorf("invalid janitor schedule %q: %w", q.cfg.JanitorSchedule, err)
		}
		janitor.Start()
		q.janitor = janitor
	}

	q.cancel = cancel
	q.running = true
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.dispatch(runCtx)
	}()

	slog.Info("Job queue started", "workers", q.cfg.Workers, "handlers", q.handlers.Count())
	return nil
}

// Stop cancels the dispatcher and in-flight tasks, then waits for them to
// wind down or for ctx to expire. Interrupted tasks go back to PENDING and
// rerun after the next Start.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	cancel := q.cancel
	janitor := q.janitor
	q.janitor = nil
	q.mu.Unlock()

	cancel()
	if janitor != nil {
		<-janitor.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Job queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job queue shutdown timed out: %w", ctx.Err())
	}
}

// ============================================================================
// DISPATCH
// ============================================================================

func (q *Queue) dispatch(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}

		task, err := q.store.claimNext(ctx, time.Now().UTC())
		if err != nil {
			q.sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to claim task", "error", err)
		} else if task != nil {
			q.wg.Add(1)
			go func() {
				defer q.wg.Done()
				defer q.sem.Release(1)
				q.execute(ctx, task)
			}()
			// Claim again immediately; there may be more due work.
			continue
		} else {
			q.sem.Release(1)
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

func (q *Queue) execute(ctx context.Context, task *Task) {
	handler, ok := q.handlers.Get(task.Name)

	slog.Info("Task started", "task", task.Name, "id", task.ID, "attempt", task.Attempts)
	start := time.Now()

	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrNoHandler, task.Name)
	} else {
		taskCtx, cancel := context.WithTimeout(ctx, q.cfg.TaskTimeout)
		err = runHandler(taskCtx, handler, task)
		cancel()
	}
	duration := time.Since(start)
	observability.GetGlobalMetrics().RecordTask(ctx, task.Name, duration, err)

	// Status updates use a fresh context so a shutdown mid-task still
	// leaves an accurate row behind.
	persistCtx, cancelPersist := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPersist()
	now := time.Now().UTC()

	if err == nil {
		if err := q.store.markCompleted(persistCtx, task.ID, now); err != nil {
			slog.Error("Failed to persist task completion", "task", task.Name, "id", task.ID, "error", err)
			return
		}
		slog.Info("Task completed", "task", task.Name, "id", task.ID, "duration", duration)
		return
	}

	if ctx.Err() != nil {
		// Shutdown, not a real failure. Hand the task back.
		if perr := q.store.scheduleRetry(persistCtx, task.ID, err.Error(), now, now); perr != nil {
			slog.Error("Failed to requeue interrupted task", "task", task.Name, "id", task.ID, "error", perr)
		}
		slog.Warn("Task interrupted by shutdown, requeued", "task", task.Name, "id", task.ID)
		return
	}

	if IsRetryable(err) && task.Attempts < task.MaxAttempts {
		delay := backoffDelay(q.cfg, task.Attempts)
		if perr := q.store.scheduleRetry(persistCtx, task.ID, err.Error(), now.Add(delay), now); perr != nil {
			slog.Error("Failed to schedule retry", "task", task.Name, "id", task.ID, "error", perr)
			return
		}
		slog.Warn("Task failed, scheduled retry",
			"task", task.Name,
			"id", task.ID,
			"attempt", task.Attempts,
			"max_attempts", task.MaxAttempts,
			"delay", delay.Round(time.Millisecond),
			"error", err)
		return
	}

	if perr := q.store.markFailed(persistCtx, task.ID, err.Error(), now); perr != nil {
		slog.Error("Failed to persist task failure", "task", task.Name, "id", task.ID, "error", perr)
		return
	}
	slog.Error("Task failed permanently", "task", task.Name, "id", task.ID, "attempt", task.Attempts, "error", err)
}

// runHandler isolates handler panics so one bad task cannot take the
// worker down.
func runHandler(ctx context.Context, handler Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler(ctx, task)
}

func (q *Queue) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	now := time.Now().UTC()

	deleted, err := q.store.deleteFinishedBefore(ctx, now.Add(-q.cfg.Retention))
	if err != nil {
		slog.Error("Task cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Removed finished tasks", "count", deleted, "older_than", q.cfg.Retention)
	}

	// RUNNING rows older than the task timeout belong to a process that
	// died without a clean shutdown.
	stuck, err := q.store.requeueStuckBefore(ctx, now.Add(-q.cfg.TaskTimeout), now)
	if err != nil {
		slog.Error("Stuck task sweep failed", "error", err)
		return
	}
	if stuck > 0 {
		slog.Warn("Requeued stuck tasks", "count", stuck, "older_than", q.cfg.TaskTimeout)
	}
}

// backoffDelay computes the wait before the next attempt: full jitter over
// an exponentially growing window, capped at RetryMaxDelay.
func backoffDelay(cfg config.JobsConfig, attempt int) time.Duration {
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	window := cfg.RetryBaseDelay * time.Duration(1<<uint(shift))
	if window <= 0 || window > cfg.RetryMaxDelay {
		window = cfg.RetryMaxDelay
	}
	delay := time.Duration(rand.Float64() * float64(window))
	if delay < 100*time.Millisecond {
		delay = 100 * time.Millisecond
	}
	return delay
}

func toArgMap(args any) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	if m, ok := args.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
