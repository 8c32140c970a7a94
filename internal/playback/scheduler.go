// Package playback reveals a segmented reply one chunk at a time, imitating a
// person typing.
//
// A [Scheduler] owns at most one pending playback. Every chunk, including the
// first, is appended to the transcript only after a full typing delay. A new
// [Scheduler.Start] or a [Scheduler.Cancel] discards whatever the previous
// playback had not yet revealed; a timer that fires after its playback was
// discarded reveals nothing.
//
// The typing flag is raised for the whole of a multi-chunk playback and drops
// when its last chunk is revealed. Single-chunk playbacks never raise it.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/simchat/internal/observe"
	"github.com/MrWong99/simchat/pkg/chat"
)

// DefaultDelay is the pause before each chunk is revealed.
const DefaultDelay = 1800 * time.Millisecond

// pending is the single in-flight playback.
type pending struct {
	remaining []string
	timer     clockwork.Timer
	gen       uint64
}

// Option is a functional option for [New].
type Option func(*Scheduler)

// WithDelay sets the typing delay. Non-positive values keep [DefaultDelay].
func WithDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithClock sets the clock that arms reveal timers.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithOnChange registers fn to run after every state change: a start, a
// reveal, or a cancellation that discarded chunks. fn runs without any
// scheduler lock held and may call back into the Scheduler.
func WithOnChange(fn func()) Option {
	return func(s *Scheduler) {
		s.onChange = fn
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithSurface labels metrics and logs with the widget surface name.
func WithSurface(name string) Option {
	return func(s *Scheduler) {
		s.surface = name
	}
}

// Scheduler reveals chunks into a [chat.Store]. It is safe for concurrent use.
type Scheduler struct {
	store    *chat.Store
	clock    clockwork.Clock
	onChange func()
	metrics  *observe.Metrics
	surface  string

	mu      sync.Mutex
	delay   time.Duration
	current *pending
	gen     uint64
	typing  bool
}

// New creates an idle Scheduler that appends revealed chunks to store as
// assistant Turns.
func New(store *chat.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: store,
		clock: clockwork.NewRealClock(),
		delay: DefaultDelay,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Start begins revealing chunks, discarding any playback still in progress.
// An empty chunks slice behaves like [Scheduler.Cancel].
func (s *Scheduler) Start(chunks []string) {
	if len(chunks) == 0 {
		s.Cancel()
		return
	}

	s.mu.Lock()
	preempted := s.stopLocked()
	s.gen++
	p := &pending{
		remaining: append([]string(nil), chunks...),
		gen:       s.gen,
	}
	s.typing = len(p.remaining) > 1
	s.arm(p)
	s.current = p
	s.mu.Unlock()

	if preempted {
		s.recordPreemption()
	}
	s.notify()
}

// Cancel discards the pending playback, if any, and clears the typing flag.
// Once Cancel returns no chunk of the discarded playback is ever revealed.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	preempted := s.stopLocked()
	s.mu.Unlock()

	if preempted {
		s.recordPreemption()
		s.notify()
	}
}

// Typing reports whether a multi-chunk playback is in progress.
func (s *Scheduler) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Active reports whether a playback is pending.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Remaining returns the number of chunks not yet revealed.
func (s *Scheduler) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return len(s.current.remaining)
}

// SetDelay changes the typing delay for timers armed from now on. The timer
// already running keeps its deadline. Non-positive values are ignored.
func (s *Scheduler) SetDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Delay returns the current typing delay.
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// arm schedules the next reveal of p. Must be called with s.mu held.
func (s *Scheduler) arm(p *pending) {
	gen := p.gen
	p.timer = s.clock.AfterFunc(s.delay, func() { s.reveal(gen) })
}

// stopLocked drops the current playback and reports whether one existed.
// Must be called with s.mu held.
func (s *Scheduler) stopLocked() bool {
	s.typing = false
	if s.current == nil {
		return false
	}
	if s.current.timer != nil {
		s.current.timer.Stop()
	}
	s.current = nil
	return true
}

// reveal is the timer callback for playback generation gen.
func (s *Scheduler) reveal(gen uint64) {
	s.mu.Lock()
	p := s.current
	if p == nil || p.gen != gen {
		s.mu.Unlock()
		return
	}

	chunk := p.remaining[0]
	p.remaining = p.remaining[1:]
	_, err := s.store.Append(chat.SenderAssistant, chunk)

	if len(p.remaining) == 0 {
		s.current = nil
		s.typing = false
	} else {
		s.typing = true
		s.arm(p)
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("playback: skipped unrevealable chunk", "surface", s.surface, "err", err)
	} else {
		s.metrics.RecordChunk(context.Background(), s.surface)
	}
	s.notify()
}

func (s *Scheduler) recordPreemption() {
	s.metrics.RecordPreemption(context.Background(), s.surface)
	slog.Debug("playback preempted", "surface", s.surface)
}

func (s *Scheduler) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
