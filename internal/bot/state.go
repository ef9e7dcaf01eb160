package bot

import (
	"sync"

	"github.com/talkincode/wabot/internal/credentials"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/transport"
)

// flight marks a connection setup in progress. done is closed when it settles.
type flight struct {
	done chan struct{}
}

func (f *flight) settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// connState is the process-wide connection state. The client is set only
// after a setup has completed; the flight marker stays set afterwards and is
// cleared on disconnect or when credentials expire.
type connState struct {
	mu      sync.Mutex
	client  transport.Client
	bundle  credentials.Bundle
	flight  *flight
	session *domain.BotSession
}

// pending returns the unsettled flight, if any.
func (s *connState) pending() *flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight != nil && !s.flight.settled() {
		return s.flight
	}
	return nil
}

// begin claims a new flight, or returns nil when another setup got there first.
func (s *connState) begin() *flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight != nil && !s.flight.settled() {
		return nil
	}
	s.flight = &flight{done: make(chan struct{})}
	return s.flight
}

// replaced is what a finished setup displaced.
type replaced struct {
	client  transport.Client
	bundle  credentials.Bundle
	session *domain.BotSession
}

// finish installs the new client and settles f. The replaced client, if
// any, is returned so the caller can close it and mark its session.
func (s *connState) finish(f *flight, client transport.Client, bundle credentials.Bundle, session *domain.BotSession) *replaced {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := &replaced{client: s.client, bundle: s.bundle, session: s.session}
	s.client, s.bundle, s.session = client, bundle, session
	close(f.done)
	if old.client == nil || old.client == client {
		return nil
	}
	return old
}

// abort settles a failed flight and drops the marker.
func (s *connState) abort(f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flight == f {
		s.flight = nil
	}
	close(f.done)
}

// release clears the handle and the marker, returning what was held.
func (s *connState) release() (transport.Client, credentials.Bundle, *domain.BotSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, bundle, session := s.client, s.bundle, s.session
	s.client, s.bundle = nil, nil
	if s.flight != nil && s.flight.settled() {
		s.flight = nil
	}
	return client, bundle, session
}

// expire clears the handle and the marker when client is still the current
// one. It reports whether anything was cleared.
func (s *connState) expire(client transport.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return false
	}
	s.client, s.bundle = nil, nil
	if s.flight != nil && s.flight.settled() {
		s.flight = nil
	}
	return true
}

func (s *connState) current() (transport.Client, *domain.BotSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.session, s.client != nil && s.flight != nil
}
