package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs delayed one-shot tasks on an injected clock
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	pending map[*Handle]struct{}
	closed  bool
	running sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Handle refers to one scheduled task
type Handle struct {
	s     *Scheduler
	timer clockwork.Timer
	due   time.Time
	done  chan struct{}
	once  sync.Once
}

// NewScheduler creates a scheduler on clock
func NewScheduler(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clock,
		pending: make(map[*Handle]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// After runs task once delay has elapsed. The context passed to task is
// cancelled by Shutdown. After returns nil once the scheduler is shut down.
func (s *Scheduler) After(delay time.Duration, task func(ctx context.Context)) *Handle {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	h := &Handle{s: s, due: s.clock.Now().Add(delay), done: make(chan struct{})}
	s.pending[h] = struct{}{}
	s.running.Add(1)
	s.mu.Unlock()

	timer := s.clock.AfterFunc(delay, func() {
		if !s.claim(h) {
			return
		}
		defer s.running.Done()
		defer h.finish()
		task(s.ctx)
	})

	s.mu.Lock()
	h.timer = timer
	s.mu.Unlock()
	return h
}

// claim removes h from the pending set; false means it was cancelled first
func (s *Scheduler) claim(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[h]; !ok {
		return false
	}
	delete(s.pending, h)
	return true
}

// Pending returns the number of tasks that have not started yet
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown cancels every pending task and waits for running ones to return
// or for ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	handles := make([]*Handle, 0, len(s.pending))
	for h := range s.pending {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	s.cancel()

	waited := make(chan struct{})
	go func() {
		s.running.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the task if it has not started. It reports whether it did.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	if !h.s.claim(h) {
		return false
	}
	h.s.mu.Lock()
	timer := h.timer
	h.s.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	h.s.running.Done()
	h.finish()
	return true
}

// Done is closed once the task has run or was cancelled
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Due returns when the task is scheduled to run
func (h *Handle) Due() time.Time {
	return h.due
}

func (h *Handle) finish() {
	h.once.Do(func() { close(h.done) })
}
