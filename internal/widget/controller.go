// Package widget implements the chat widget controller: it takes the
// visitor's submissions, runs the reply round trip, and hands the reply to
// the playback scheduler.
//
// A [Controller] owns one conversation. While a round trip is in flight the
// controller is busy and ignores further submissions. A new submission always
// interrupts any reply still being revealed, so the transcript never
// interleaves two replies.
package widget

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/simchat/internal/dispatch"
	"github.com/MrWong99/simchat/internal/observe"
	"github.com/MrWong99/simchat/internal/playback"
	"github.com/MrWong99/simchat/pkg/chat"
	"github.com/MrWong99/simchat/pkg/segment"
)

// DefaultApology is revealed when the reply round trip fails.
const DefaultApology = "Desculpe, houve um erro ao enviar sua mensagem. Tente novamente."

// DefaultGreeting is the assistant's opening line.
const DefaultGreeting = "Olá! Como posso ajudar você hoje?"

// Replier produces reply text for a visitor message. [*dispatch.Dispatcher]
// is the production implementation.
type Replier interface {
	Dispatch(ctx context.Context, userText string) (dispatch.Result, error)
}

// State is a point-in-time view of a conversation, suitable for rendering.
type State struct {
	// Turns is the transcript in display order.
	Turns []chat.Turn `json:"turns"`

	// Busy is true while a reply round trip is in flight; the input should be
	// disabled.
	Busy bool `json:"busy"`

	// Typing is true while a multi-chunk reply is being revealed; a typing
	// indicator should be shown.
	Typing bool `json:"typing"`
}

// Option is a functional option for [New].
type Option func(*options)

type options struct {
	name     string
	greeting string
	apology  string
	delay    time.Duration
	clock    clockwork.Clock
	metrics  *observe.Metrics
}

// WithName labels logs and metrics with the surface name. Default: "default".
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithGreeting seeds the transcript with an assistant greeting. Blank values
// leave the transcript empty.
func WithGreeting(text string) Option {
	return func(o *options) {
		o.greeting = text
	}
}

// WithApology overrides [DefaultApology]. Blank values are ignored.
func WithApology(text string) Option {
	return func(o *options) {
		if strings.TrimSpace(text) != "" {
			o.apology = text
		}
	}
}

// WithTypingDelay sets the playback delay between chunks.
func WithTypingDelay(d time.Duration) Option {
	return func(o *options) {
		o.delay = d
	}
}

// WithClock sets the clock for the transcript timestamps and playback timers.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Controller orchestrates one conversation. It is safe for concurrent use.
type Controller struct {
	name    string
	replier Replier
	store   *chat.Store
	sched   *playback.Scheduler
	metrics *observe.Metrics

	// mu serialises submission admission: the busy check, the playback
	// cancellation, and the user Turn append.
	mu   sync.Mutex
	busy atomic.Bool

	apology  atomic.Pointer[string]
	inflight sync.WaitGroup

	// pubMu serialises snapshot-and-deliver so the last delivery always
	// carries the newest state.
	pubMu  sync.Mutex
	subs   map[int]chan State
	nextID int
	closed bool
}

// New creates a Controller that obtains replies from replier.
func New(replier Replier, opts ...Option) *Controller {
	o := &options{
		name:    "default",
		apology: DefaultApology,
		clock:   clockwork.NewRealClock(),
	}
	for _, fn := range opts {
		fn(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	c := &Controller{
		name:    o.name,
		replier: replier,
		store:   chat.NewStore(chat.WithClock(o.clock)),
		metrics: o.metrics,
		subs:    make(map[int]chan State),
	}
	c.apology.Store(&o.apology)
	c.sched = playback.New(c.store,
		playback.WithClock(o.clock),
		playback.WithDelay(o.delay),
		playback.WithMetrics(o.metrics),
		playback.WithSurface(o.name),
		playback.WithOnChange(c.publish),
	)

	if strings.TrimSpace(o.greeting) != "" {
		if _, err := c.store.Append(chat.SenderAssistant, o.greeting); err != nil {
			slog.Warn("widget: greeting rejected", "surface", c.name, "err", err)
		}
	}
	return c
}

// Name returns the surface name.
func (c *Controller) Name() string {
	return c.name
}

// Submit runs one submission end to end and reports whether it was accepted.
// Blank text and submissions while a round trip is in flight are ignored.
//
// An accepted submission interrupts any reply being revealed, appends the
// visitor's Turn, and waits for the reply round trip. A reply is handed to
// playback and revealed after Submit returns; a failed round trip appends the
// apology instead. The controller is no longer busy when Submit returns.
func (c *Controller) Submit(ctx context.Context, text string) bool {
	if !c.admit(ctx, text) {
		return false
	}
	c.complete(ctx, text)
	return true
}

// SubmitAsync admits text like [Controller.Submit] but runs the reply round
// trip in the background. It returns as soon as the visitor's Turn is in the
// transcript. Use [Controller.Wait] to wait for background round trips.
func (c *Controller) SubmitAsync(ctx context.Context, text string) bool {
	if !c.admit(ctx, text) {
		return false
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.complete(ctx, text)
	}()
	return true
}

// Wait blocks until every round trip started by [Controller.SubmitAsync] has
// finished.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// admit performs the synchronous half of a submission: the busy check, the
// playback interruption and the user Turn append.
func (c *Controller) admit(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		c.metrics.RecordSubmission(ctx, c.name, false)
		return false
	}

	c.mu.Lock()
	if c.busy.Load() {
		c.mu.Unlock()
		c.metrics.RecordSubmission(ctx, c.name, false)
		observe.Logger(ctx).Debug("widget: submission ignored while busy", "surface", c.name)
		return false
	}
	c.sched.Cancel()
	if _, err := c.store.Append(chat.SenderUser, text); err != nil {
		c.mu.Unlock()
		c.metrics.RecordSubmission(ctx, c.name, false)
		return false
	}
	c.busy.Store(true)
	c.mu.Unlock()

	c.metrics.RecordSubmission(ctx, c.name, true)
	c.publish()
	return true
}

// complete runs the reply round trip for an admitted submission and clears
// the busy flag.
func (c *Controller) complete(ctx context.Context, text string) {
	res, err := c.replier.Dispatch(ctx, text)

	// Clearing busy and handing over the reply happen under mu so that no
	// later submission can append its Turn in between.
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		observe.Logger(ctx).Warn("widget: reply failed, showing apology",
			"surface", c.name,
			"err", err)
		if _, aerr := c.store.Append(chat.SenderAssistant, *c.apology.Load()); aerr != nil {
			slog.Error("widget: apology rejected", "surface", c.name, "err", aerr)
		}
		c.busy.Store(false)
		c.publish()
		return
	}

	c.busy.Store(false)
	c.sched.Start(segment.Split(res.Text))
}

// Turns returns the transcript.
func (c *Controller) Turns() []chat.Turn {
	return c.store.Turns()
}

// Busy reports whether a reply round trip is in flight.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// Typing reports whether a multi-chunk reply is being revealed.
func (c *Controller) Typing() bool {
	return c.sched.Typing()
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() State {
	return State{
		Turns:  c.store.Turns(),
		Busy:   c.busy.Load(),
		Typing: c.sched.Typing(),
	}
}

// Subscribe returns a channel that receives the newest State after every
// change. Slow readers miss intermediate states but always get the latest
// one. The returned function unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.pubMu.Lock()
	if c.closed {
		c.pubMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.pubMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.pubMu.Lock()
			defer c.pubMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// SetTypingDelay changes the playback delay for subsequent reveals.
func (c *Controller) SetTypingDelay(d time.Duration) {
	c.sched.SetDelay(d)
}

// SetApology replaces the failure message. Blank values are ignored.
func (c *Controller) SetApology(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.apology.Store(&text)
}

// Close cancels any playback in progress and closes all subscriptions.
// Submissions after Close still work but are no longer published.
func (c *Controller) Close() {
	c.sched.Cancel()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// publish delivers the current State to every subscriber, replacing any
// undelivered older State.
func (c *Controller) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if len(c.subs) == 0 {
		return
	}

	st := c.Snapshot()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
