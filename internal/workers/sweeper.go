// Package workers runs periodic maintenance in the background.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is used when a Sweeper is built without an interval.
const DefaultInterval = 10 * time.Minute

// Task is one garbage collection step, e.g. dropping old ledger entries. Run
// reports how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

var errSweeperClosed = errors.New("sweeper closed")

// Sweeper runs its tasks on a fixed interval until Shutdown.
type Sweeper struct {
	tasks    []Task
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	kick   chan struct{}
}

// NewSweeper starts the background loop.
func NewSweeper(interval time.Duration, logger *slog.Logger, tasks ...Task) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		tasks:    tasks,
		interval: interval,
		timeout:  min(interval, time.Minute),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		kick:     make(chan struct{}, 1),
	}

	s.wg.Add(1)
	go s.loop()
	return s
}

// Trigger requests an immediate pass without waiting for the ticker.
func (s *Sweeper) Trigger() error {
	select {
	case <-s.ctx.Done():
		return errSweeperClosed
	default:
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

// RunOnce executes every task in order and returns the removed counts by name.
// A failing task is logged and does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int {
	removed := make(map[string]int, len(s.tasks))
	for _, task := range s.tasks {
		taskCtx, cancel := context.WithTimeout(ctx, s.timeout)
		n, err := task.Run(taskCtx)
		cancel()
		if err != nil {
			s.logger.Error("sweep task failed", "task", task.Name, "error", err)
			continue
		}
		removed[task.Name] = n
		if n > 0 {
			s.logger.Info("sweep task removed entries", "task", task.Name, "removed", n)
		}
	}
	return removed
}

// Shutdown stops the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Shutdown(ctx context.Context) error {
	s.once.Do(s.cancel)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		// A pass that starts is allowed to complete even if Shutdown is called.
		s.RunOnce(context.WithoutCancel(s.ctx))
	}
}
