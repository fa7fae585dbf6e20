package storage

import (
	"context"
	"sync"

	"github.com/gorilla/sessions"
)

var _ KeyValueStore = (*Session)(nil)

// Session keeps values in a gorilla session for the duration of one HTTP
// request. The caller is responsible for saving the session once the request
// is done with it. It should only be used with a server-side session store,
// tokens must not end up in cookies.
type Session struct {
	mu      sync.Mutex
	session *sessions.Session
}

func NewSession(s *sessions.Session) *Session {
	return &Session{session: s}
}

func (s *Session) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.session.Values[key].(string)
	return v, ok, nil
}

func (s *Session) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Values[key] = value
	return nil
}

func (s *Session) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.session.Values, key)
	return nil
}
