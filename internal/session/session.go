// ABOUTME: Session is a user's persistent conversational state keyed by address
// ABOUTME: Owns custom data, current state, active thread, and the resolved user profile

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-paybot/internal/identity"
	"github.com/2389/coven-paybot/internal/metrics"
	"github.com/2389/coven-paybot/internal/sofa"
	"github.com/2389/coven-paybot/internal/store"
)

// Anonymous is the address of sessions with no reply channel.
const Anonymous = "anonymous"

// KeyTokenID always reads back as the session address.
const KeyTokenID = "tokenId"

// ErrNoRecipient is returned when replying on an anonymous session.
var ErrNoRecipient = errors.New("cannot send messages to anonymous session")

// Session holds one user's conversational state. A Session is used by one
// handling turn at a time; only its background saves run concurrently.
type Session struct {
	deps    *Deps
	logger  *slog.Logger
	address string

	data       store.Record // free-form keys, always includes address
	state      string
	thread     Thread
	threadName string
	user       *identity.User
	timestamp  int64

	flushSeq uint64
	pending  sync.WaitGroup
	saveMu   sync.Mutex
	savedSeq uint64
	saveErr  error
}

// New creates a session for address. Call Load before handling.
func New(deps *Deps, address string) *Session {
	if address == "" {
		address = Anonymous
	}
	return &Session{
		deps:    deps,
		logger:  deps.logger().With("component", "session", "address", address),
		address: address,
		data:    store.Record{store.KeyAddress: address},
	}
}

// Address returns the session's address.
func (s *Session) Address() string {
	return s.address
}

// IsAnonymous reports whether the session has no reply channel.
func (s *Session) IsAnonymous() bool {
	return s.address == Anonymous
}

// User returns the resolved profile. It is empty until Load and for
// anonymous sessions.
func (s *Session) User() *identity.User {
	if s.user == nil {
		return &identity.User{}
	}
	return s.user
}

// State returns the current state name, or "" for none.
func (s *Session) State() string {
	return s.state
}

// Thread returns the active thread, or nil.
func (s *Session) Thread() Thread {
	return s.thread
}

// ThreadName returns the active thread's name, or "".
func (s *Session) ThreadName() string {
	return s.threadName
}

// Get returns the value stored under key, or nil. "tokenId" aliases the
// address and the reserved keys reflect the live state.
func (s *Session) Get(key string) any {
	switch key {
	case KeyTokenID, store.KeyAddress:
		return s.address
	case store.KeyState:
		return nullable(s.state)
	case store.KeyThread:
		return nullable(s.threadName)
	case store.KeyTimestamp:
		if s.timestamp == 0 {
			return nil
		}
		return s.timestamp
	}
	return s.data[key]
}

// GetString returns the value under key if it is a string.
func (s *Session) GetString(key string) (string, bool) {
	v, ok := s.Get(key).(string)
	return v, ok
}

// Set stores value under key and flushes. Writing _state is the same as
// SetState; address, _thread and timestamp can't be written directly.
// Saves run in the background on a copy: nested maps and slices are copied,
// but other pointer values must not be mutated after Set.
func (s *Session) Set(key string, value any) {
	switch key {
	case store.KeyState:
		name, _ := value.(string)
		s.SetState(name)
		return
	case store.KeyAddress, store.KeyThread, store.KeyTimestamp:
		s.logger.Warn("ignoring write to reserved session key", "key", key)
		return
	}
	s.data[key] = value
	s.Flush()
}

// Delete removes key from the custom data and flushes if it was present.
// Reserved keys can't be deleted.
func (s *Session) Delete(key string) {
	switch key {
	case KeyTokenID, store.KeyAddress, store.KeyState, store.KeyThread, store.KeyTimestamp:
		s.logger.Warn("ignoring delete of reserved session key", "key", key)
		return
	}
	if _, ok := s.data[key]; !ok {
		return
	}
	delete(s.data, key)
	s.Flush()
}

// SetState sets the current state ("" clears it) and flushes.
func (s *Session) SetState(name string) {
	s.state = name
	s.Flush()
}

// Data returns a copy of the free-form mapping, including address.
func (s *Session) Data() store.Record {
	return s.data.Clone()
}

// Record derives the persisted form from the data, state, thread name and
// last flush time.
func (s *Session) Record() store.Record {
	rec := s.data.Clone()
	rec[store.KeyAddress] = s.address
	rec[store.KeyState] = nullable(s.state)
	rec[store.KeyThread] = nullable(s.threadName)
	if s.timestamp != 0 {
		rec[store.KeyTimestamp] = s.timestamp
	}
	return rec
}

// JSON returns the record as canonical JSON (sorted keys).
func (s *Session) JSON() string {
	b, err := json.Marshal(s.Record())
	if err != nil {
		return fmt.Sprintf(`{"address":%q,"error":%q}`, s.address, err.Error())
	}
	return string(b)
}

// Reply delivers msg to the session's address. Anonymous sessions can't be
// replied to: the attempt is logged and ErrNoRecipient returned. Nothing is
// retried.
func (s *Session) Reply(ctx context.Context, msg sofa.Message) error {
	if s.IsAnonymous() {
		s.logger.Error("cannot send messages to anonymous session", "type", msg.Type())
		metrics.RecordReply(ErrNoRecipient)
		return ErrNoRecipient
	}
	if s.deps.Gateway == nil {
		return fmt.Errorf("message gateway: %w", ErrNotConfigured)
	}

	err := s.deps.Gateway.Send(ctx, s.address, msg)
	metrics.RecordReply(err)
	if err != nil {
		s.logger.Error("failed to send reply", "type", msg.Type(), "error", err)
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// Say is Reply with a plain text message.
func (s *Session) Say(ctx context.Context, format string, args ...any) error {
	return s.Reply(ctx, sofa.Text{Body: fmt.Sprintf(format, args...)})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
