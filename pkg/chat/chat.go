// Package chat defines the conversation model shared by the reply engine:
// a [Turn] is one immutable message and a [Store] is the append-only log the
// widget renders.
//
// A Store never reorders, edits, or deletes Turns. Appends from concurrent
// goroutines are serialised, so every reader observes a prefix of the same
// ordered log.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrEmptyTurn is returned when a Turn would carry text that is empty after
// trimming whitespace.
var ErrEmptyTurn = errors.New("chat: turn text is empty")

// Sender identifies who authored a Turn.
type Sender string

const (
	// SenderUser marks text typed by the visitor.
	SenderUser Sender = "user"

	// SenderAssistant marks text produced by the engine (replies, greetings,
	// acknowledgements, and apologies).
	SenderAssistant Sender = "assistant"
)

// IsValid reports whether s is one of the known senders.
func (s Sender) IsValid() bool {
	switch s {
	case SenderUser, SenderAssistant:
		return true
	default:
		return false
	}
}

// Turn is one message in the conversation log.
type Turn struct {
	// Text is the message body. Never blank.
	Text string `json:"text"`

	// Sender is the author of the message.
	Sender Sender `json:"sender"`

	// At is the time the Turn was appended to its Store. Informational only;
	// ordering is defined by position in the log.
	At time.Time `json:"at"`
}

// NewTurn builds a Turn after validating its text and sender. The text is
// stored as given; only the blankness check trims it.
func NewTurn(sender Sender, text string) (Turn, error) {
	if !sender.IsValid() {
		return Turn{}, fmt.Errorf("chat: unknown sender %q", sender)
	}
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrEmptyTurn
	}
	return Turn{Text: text, Sender: sender}, nil
}

// Option is a functional option for [NewStore].
type Option func(*Store)

// WithClock sets the clock used to stamp appended Turns.
// Defaults to the real wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// Store is an append-only, ordered log of Turns. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	turns []Turn
	clock clockwork.Clock
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append validates and appends a Turn authored by sender, returning the
// stored value.
func (s *Store) Append(sender Sender, text string) (Turn, error) {
	t, err := NewTurn(sender, text)
	if err != nil {
		return Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t.At = s.clock.Now()
	s.turns = append(s.turns, t)
	return t, nil
}

// Turns returns a copy of the log in insertion order.
func (s *Store) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of Turns in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Last returns the most recent Turn and true, or the zero Turn and false when
// the log is empty.
func (s *Store) Last() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}
