// ABOUTME: Loading sessions from the store and flushing them back in the background
// ABOUTME: Saves are fire-and-forget but applied in issue order; Wait makes them awaitable

package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/coven-paybot/internal/identity"
	"github.com/2389/coven-paybot/internal/metrics"
	"github.com/2389/coven-paybot/internal/store"
)

// Load hydrates the session from the store, restores its state and thread,
// and resolves the user profile. Anonymous sessions get an empty profile.
func (s *Session) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session.Load",
		trace.WithAttributes(attribute.String("session.address", s.address)))
	defer span.End()

	rec, err := s.deps.Store.LoadSession(ctx, s.address)
	metrics.RecordLoad(err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("loading session %s: %w", s.address, err)
	}
	s.restore(rec)

	if s.IsAnonymous() || s.deps.Identity == nil {
		s.user = &identity.User{}
		return nil
	}

	user, err := s.deps.Identity.GetUser(ctx, s.address)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("resolving user %s: %w", s.address, err)
	}
	if user == nil {
		user = &identity.User{}
	}
	s.user = user
	return nil
}

func (s *Session) restore(rec store.Record) {
	data := store.Record{store.KeyAddress: s.address}
	for k, v := range rec {
		switch k {
		case store.KeyAddress:
		case store.KeyState:
			s.state, _ = v.(string)
		case store.KeyThread:
			name, _ := v.(string)
			if name == "" {
				continue
			}
			t, ok := s.deps.threads().Lookup(name)
			if !ok {
				s.logger.Warn("dropping unregistered thread from stored session", "thread", name)
				continue
			}
			s.thread = t
			s.threadName = name
		case store.KeyTimestamp:
			s.timestamp = toUnix(v)
		default:
			data[k] = v
		}
	}
	s.data = data
}

func toUnix(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(math.Round(n))
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// Flush stamps the session with the current time and saves it without
// blocking. A newer flush always wins over an older one.
func (s *Session) Flush() {
	s.timestamp = s.deps.now().Round(time.Second).Unix()
	rec := s.Record()

	s.flushSeq++
	seq := s.flushSeq

	s.pending.Add(1)
	go s.save(seq, rec)
}

func (s *Session) save(seq uint64, rec store.Record) {
	defer s.pending.Done()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if seq <= s.savedSeq {
		// a newer snapshot was already written
		return
	}
	s.savedSeq = seq

	ctx, cancel := context.WithTimeout(context.Background(), s.deps.saveTimeout())
	defer cancel()

	err := s.deps.Store.SaveSession(ctx, s.address, rec)
	metrics.RecordFlush(err)
	if err != nil {
		s.logger.Error("failed to save session", "error", err)
		s.saveErr = err
		return
	}
	s.saveErr = nil
}

// Wait blocks until every flush issued so far has been saved and returns the
// error of the last save attempt.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saveErr
}
