// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to script the event stream and inspect the audio a consumer sent.
//
// Example:
//
//	sess := mock.NewSession(8)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.EventsCh <- live.Event{Kind: live.EventOpen}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/brainstorm/pkg/audio"
	"github.com/MrWong99/brainstorm/pkg/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a new Session
	// with a buffered event channel.
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(64), nil
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.Session.
// Callers push scripted events into EventsCh and close it to signal the end of
// the stream.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own this channel.
	EventsCh chan live.Event

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	sent       []audio.Blob
	closeCount int
}

// NewSession returns a Session whose event channel has the given buffer size.
func NewSession(buffer int) *Session {
	return &Session{EventsCh: make(chan live.Event, buffer)}
}

// Events returns EventsCh.
func (s *Session) Events() <-chan live.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// SendAudio records the blob and returns SendAudioErr. Once Close has been
// called it returns live.ErrSessionClosed.
func (s *Session) SendAudio(blob audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCount > 0 {
		return live.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.sent = append(s.sent, blob)
	return nil
}

// Sent returns a copy of every blob accepted by SendAudio. Thread-safe.
func (s *Session) Sent() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Blob(nil), s.sent...)
}

// CloseCount returns how many times Close was called. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	return s.CloseErr
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)
