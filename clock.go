package chronofsm

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies a scheduled callback so it can later be cancelled.
// Handles are opaque and comparable, backed by a uuid so they stay unique
// across both the real and fake Scheduler implementations.
type Handle uuid.UUID

var zeroHandle Handle

// Scheduler is the injectable time/callback capability the evaluation
// pipeline runs on. Implementations must treat handles returned by Schedule
// and ScheduleIdle as belonging to independent namespaces.
type Scheduler interface {
	// Now returns the current time in milliseconds since an arbitrary epoch.
	Now() int64
	// Schedule arranges for fn to run once after delay elapses.
	Schedule(delay time.Duration, fn func()) Handle
	// Cancel aborts a pending Schedule callback. Cancelling an unknown or
	// already-fired handle is a no-op.
	Cancel(h Handle)
	// ScheduleIdle arranges for fn to run the next time the scheduler
	// considers itself idle. Implementations without a native idle
	// facility degrade to Schedule(time.Millisecond, fn), per spec.
	ScheduleIdle(fn func()) Handle
	// CancelIdle aborts a pending ScheduleIdle callback.
	CancelIdle(h Handle)
}

// RealScheduler is the default Scheduler, backed by the runtime's timers.
// It has no native idle facility, so ScheduleIdle degrades to a 1ms timer.
type RealScheduler struct {
	start time.Time

	mu     sync.Mutex
	timers map[Handle]*time.Timer
}

// NewRealScheduler creates a Scheduler backed by the ambient wall clock.
func NewRealScheduler() *RealScheduler {
	return &RealScheduler{
		start:  time.Now(),
		timers: make(map[Handle]*time.Timer),
	}
}

// Now returns milliseconds elapsed since the scheduler was constructed.
func (s *RealScheduler) Now() int64 {
	return time.Since(s.start).Milliseconds()
}

// Schedule runs fn once after delay, returning a cancellable handle.
func (s *RealScheduler) Schedule(delay time.Duration, fn func()) Handle {
	h := Handle(uuid.New())
	s.mu.Lock()
	s.timers[h] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, h)
		s.mu.Unlock()
		fn()
	})
	s.mu.Unlock()
	return h
}

// Cancel stops a pending timer. Cancelling a fired or unknown handle is a no-op.
func (s *RealScheduler) Cancel(h Handle) {
	if h == zeroHandle {
		return
	}
	s.mu.Lock()
	t, ok := s.timers[h]
	if ok {
		delete(s.timers, h)
	}
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// ScheduleIdle degrades to a 1ms timer; RealScheduler has no idle facility.
func (s *RealScheduler) ScheduleIdle(fn func()) Handle {
	return s.Schedule(time.Millisecond, fn)
}

// CancelIdle cancels an idle callback scheduled via ScheduleIdle.
func (s *RealScheduler) CancelIdle(h Handle) {
	s.Cancel(h)
}

// fakeTask is one pending callback on a FakeScheduler's virtual timeline.
type fakeTask struct {
	due   int64
	seq   int64
	fn    func()
	index int
}

type fakeQueue []*fakeTask

func (q fakeQueue) Len() int { return len(q) }
func (q fakeQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}
func (q fakeQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *fakeQueue) Push(x any) {
	t := x.(*fakeTask)
	t.index = len(*q)
	*q = append(*q, t)
}
func (q *fakeQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// FakeScheduler is a manually-advanced Scheduler for deterministic tests of
// debounce, retry, and idle/next-tick behavior.
type FakeScheduler struct {
	mu      sync.Mutex
	now     int64
	seq     int64
	queue   fakeQueue
	byHand  map[Handle]*fakeTask
}

// NewFakeScheduler creates a FakeScheduler starting at virtual time zero.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{
		byHand: make(map[Handle]*fakeTask),
	}
}

// Now returns the current virtual time in milliseconds.
func (s *FakeScheduler) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule arranges fn to run when virtual time reaches now+delay.
func (s *FakeScheduler) Schedule(delay time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Handle(uuid.New())
	t := &fakeTask{due: s.now + delay.Milliseconds(), seq: s.seq, fn: fn}
	s.seq++
	heap.Push(&s.queue, t)
	s.byHand[h] = t
	return h
}

// Cancel removes a pending task before it fires.
func (s *FakeScheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byHand[h]
	if !ok {
		return
	}
	delete(s.byHand, h)
	if t.index >= 0 && t.index < len(s.queue) && s.queue[t.index] == t {
		heap.Remove(&s.queue, t.index)
	}
}

// ScheduleIdle behaves like Schedule with a zero delay on FakeScheduler,
// since tests drive idle callbacks explicitly via Advance.
func (s *FakeScheduler) ScheduleIdle(fn func()) Handle {
	return s.Schedule(0, fn)
}

// CancelIdle cancels an idle callback scheduled via ScheduleIdle.
func (s *FakeScheduler) CancelIdle(h Handle) {
	s.Cancel(h)
}

// Advance moves virtual time forward by d, running every due callback in
// (due-time, insertion-order) order, including callbacks newly scheduled by
// earlier callbacks within the same Advance, as long as their due time
// falls within the advanced window.
func (s *FakeScheduler) Advance(d time.Duration) {
	target := s.Now() + d.Milliseconds()
	for {
		s.mu.Lock()
		if s.queue.Len() == 0 || s.queue[0].due > target {
			s.now = target
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.queue).(*fakeTask)
		for h, v := range s.byHand {
			if v == t {
				delete(s.byHand, h)
				break
			}
		}
		s.now = t.due
		s.mu.Unlock()
		t.fn()
	}
}
