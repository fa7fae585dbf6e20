package middleware

import (
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	defaultSessionName = "pkce-middleware"

	sessionKeyState    = "pkce-state"
	sessionKeyReturnTo = "pkce-return-to"
)

func (h *Handler) session(r *http.Request) (*sessions.Session, error) {
	if h.SessionStore == nil {
		return nil, fmt.Errorf("session store must be set")
	}
	name := h.SessionName
	if name == "" {
		name = defaultSessionName
	}
	session, err := h.SessionStore.Get(r, name)
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", name, err)
	}
	return session, nil
}

func sessionString(s *sessions.Session, key string) string {
	v, _ := s.Values[key].(string)
	return v
}

func saveSession(w http.ResponseWriter, r *http.Request, s *sessions.Session) error {
	if err := s.Save(r, w); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
