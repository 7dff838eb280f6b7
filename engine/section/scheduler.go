package section

import (
	"sync"
	"time"

	"github.com/onflow/sectionnet/module/dkg"
)

// scheduler turns delayed work into events of the engine loop.
type scheduler struct {
	mu      sync.Mutex
	push    func(event interface{})
	timers  map[*time.Timer]struct{}
	stopped bool
}

var _ dkg.Scheduler = (*scheduler)(nil)

func newScheduler(push func(event interface{})) *scheduler {
	return &scheduler{
		push:   push,
		timers: make(map[*time.Timer]struct{}),
	}
}

// after queues event once delay elapsed.
func (s *scheduler) after(delay time.Duration, event interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, pending := s.timers[t]
		delete(s.timers, t)
		s.mu.Unlock()
		if pending {
			s.push(event)
		}
	})
	s.timers[t] = struct{}{}
}

// Schedule implements dkg.Scheduler.
func (s *scheduler) Schedule(delay time.Duration, timer dkg.Timer) {
	s.after(delay, dkgTimerEvent{timer: timer})
}

// stop cancels every pending timer. Later calls to after are ignored.
func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for t := range s.timers {
		t.Stop()
		delete(s.timers, t)
	}
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
