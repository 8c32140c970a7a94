package playback

import (
	"context"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/simchat/internal/observe"
	"github.com/MrWong99/simchat/pkg/chat"
)

const testDelay = 1800 * time.Millisecond

type harness struct {
	sched   *Scheduler
	store   *chat.Store
	clock   *clockwork.FakeClock
	changes atomic.Int64
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		store: chat.NewStore(),
		clock: clockwork.NewFakeClock(),
	}
	base := []Option{
		WithClock(h.clock),
		WithMetrics(m),
		WithSurface("test"),
		WithOnChange(func() { h.changes.Add(1) }),
	}
	h.sched = New(h.store, append(base, opts...)...)
	t.Cleanup(h.sched.Cancel)
	return h
}

// texts returns the text of every Turn in the store.
func (h *harness) texts() []string {
	var out []string
	for _, turn := range h.store.Turns() {
		out = append(out, turn.Text)
	}
	return out
}

// advance moves the fake clock once a reveal timer is armed.
func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("no reveal timer armed: %v", err)
	}
	h.clock.Advance(d)
}

// waitForLen polls until the store holds n Turns. Fake clock callbacks run
// on their own goroutine.
func (h *harness) waitForLen(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.store.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("store len = %d, want %d (turns %q)", h.store.Len(), n, h.texts())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_RevealsAfterEachDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sched.Start([]string{"Olá!", "Tudo bem?"})
	if !h.sched.Typing() {
		t.Fatal("typing flag should be raised before the first reveal of a multi-chunk playback")
	}
	if h.store.Len() != 0 {
		t.Fatal("nothing may be revealed before the first delay")
	}

	h.advance(t, testDelay-time.Millisecond)
	if h.store.Len() != 0 {
		t.Fatal("revealed before the delay elapsed")
	}
	h.clock.Advance(time.Millisecond)
	h.waitForLen(t, 1)
	if !h.sched.Typing() {
		t.Error("typing flag should stay raised between reveals")
	}
	if !h.sched.Active() || h.sched.Remaining() != 1 {
		t.Errorf("active = %v, remaining = %d", h.sched.Active(), h.sched.Remaining())
	}

	h.advance(t, testDelay)
	h.waitForLen(t, 2)
	if h.sched.Typing() {
		t.Error("typing flag should drop after the last reveal")
	}
	if h.sched.Active() {
		t.Error("scheduler should be idle after the last reveal")
	}

	if got := h.texts(); !slices.Equal(got, []string{"Olá!", "Tudo bem?"}) {
		t.Errorf("turns = %q", got)
	}
	for _, turn := range h.store.Turns() {
		if turn.Sender != chat.SenderAssistant {
			t.Errorf("turn %q sender = %q, want assistant", turn.Text, turn.Sender)
		}
	}
}

func TestScheduler_SingleChunkNeverTypes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sched.Start([]string{"Recebi sua mensagem!"})
	if h.sched.Typing() {
		t.Error("single-chunk playback must not raise the typing flag")
	}
	h.advance(t, testDelay)
	h.waitForLen(t, 1)
	if h.sched.Typing() || h.sched.Active() {
		t.Error("scheduler should be idle with typing cleared")
	}
}

func TestScheduler_CancelDiscardsRemaining(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sched.Start([]string{"A.", "B!", "C?"})
	h.advance(t, testDelay)
	h.waitForLen(t, 1)

	h.sched.Cancel()
	if h.sched.Typing() || h.sched.Active() {
		t.Fatal("cancel must clear typing and go idle")
	}

	h.clock.Advance(10 * testDelay)
	time.Sleep(20 * time.Millisecond)
	if got := h.texts(); !slices.Equal(got, []string{"A."}) {
		t.Errorf("turns after cancel = %q, want only the revealed chunk", got)
	}
}

func TestScheduler_StartPreemptsPrevious(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sched.Start([]string{"old 1.", "old 2.", "old 3."})
	h.advance(t, testDelay)
	h.waitForLen(t, 1)

	h.sched.Start([]string{"new."})
	if h.sched.Typing() {
		t.Error("single-chunk replacement must clear the typing flag")
	}
	h.advance(t, testDelay)
	h.waitForLen(t, 2)

	h.clock.Advance(10 * testDelay)
	time.Sleep(20 * time.Millisecond)
	if got := h.texts(); !slices.Equal(got, []string{"old 1.", "new."}) {
		t.Errorf("turns = %q, want old chunks discarded", got)
	}
}

func TestScheduler_EmptyStartCancels(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sched.Start([]string{"a.", "b."})
	h.sched.Start(nil)
	if h.sched.Active() || h.sched.Typing() {
		t.Fatal("empty Start should cancel")
	}
	h.clock.Advance(5 * testDelay)
	time.Sleep(20 * time.Millisecond)
	if h.store.Len() != 0 {
		t.Errorf("store len = %d, want 0", h.store.Len())
	}
}

func TestScheduler_CancelWhenIdleIsQuiet(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sched.Cancel()
	h.sched.Cancel()
	if n := h.changes.Load(); n != 0 {
		t.Errorf("idle cancel produced %d change notifications", n)
	}
}

func TestScheduler_StaleTimerIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sched.Start([]string{"first."})
	h.sched.mu.Lock()
	staleGen := h.sched.gen
	h.sched.mu.Unlock()

	h.sched.Start([]string{"second."})

	// A callback of the replaced playback that lost the race against Start.
	h.sched.reveal(staleGen)
	if h.store.Len() != 0 {
		t.Fatalf("stale timer revealed %q", h.texts())
	}
	if h.sched.Remaining() != 1 {
		t.Errorf("remaining = %d, want 1", h.sched.Remaining())
	}
}

func TestScheduler_SetDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithDelay(time.Second))

	if h.sched.Delay() != time.Second {
		t.Fatalf("Delay = %v, want 1s", h.sched.Delay())
	}
	h.sched.SetDelay(0)
	if h.sched.Delay() != time.Second {
		t.Fatal("non-positive delay must be ignored")
	}
	h.sched.SetDelay(300 * time.Millisecond)

	h.sched.Start([]string{"quick."})
	h.advance(t, 300*time.Millisecond)
	h.waitForLen(t, 1)
}

func TestScheduler_DefaultDelay(t *testing.T) {
	t.Parallel()
	s := New(chat.NewStore(), WithDelay(-time.Second))
	if s.Delay() != DefaultDelay {
		t.Errorf("Delay = %v, want %v", s.Delay(), DefaultDelay)
	}
}

func TestScheduler_NotifiesOnEveryChange(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.sched.Start([]string{"a.", "b."}) // 1
	h.advance(t, testDelay)             // 2
	h.waitForLen(t, 1)
	h.sched.Cancel() // 3

	deadline := time.Now().Add(time.Second)
	for h.changes.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := h.changes.Load(); n != 3 {
		t.Errorf("changes = %d, want 3", n)
	}
}
