// ABOUTME: Session state carried across requests from the same client
// ABOUTME: Holds the cached principal, auth type and per-session notes

package session

import (
	"time"

	"github.com/2389/gatewarden/internal/realm"
)

// Note keys recognized on a session. Notes exist only while identity caching
// is enabled and mirror the credentials used at authentication time.
const (
	NoteUsername = "gatewarden.session.username"
	NotePassword = "gatewarden.session.password"

	// NoteSavedRequest holds the decoded URI of a request saved before a
	// login challenge, so the pipeline can force authentication when the
	// client replays it.
	NoteSavedRequest = "gatewarden.session.savedRequest"
)

// Session is the per-client state surviving across requests. A session is
// only ever touched by the worker currently processing a request for it;
// cross-session coordination lives in the Manager.
type Session struct {
	id string

	Principal *realm.Principal
	AuthType  string

	CreatedAt    time.Time
	LastAccessed time.Time

	notes map[string]string
}

// ID returns the session's current identifier. The identifier changes when
// the Manager rotates it on authentication.
func (s *Session) ID() string {
	return s.id
}

// SetNote stores a named note on the session.
func (s *Session) SetNote(key, value string) {
	if s.notes == nil {
		s.notes = make(map[string]string)
	}
	s.notes[key] = value
}

// Note returns the named note, or "" if absent.
func (s *Session) Note(key string) string {
	return s.notes[key]
}

// RemoveNote deletes the named note.
func (s *Session) RemoveNote(key string) {
	delete(s.notes, key)
}

// Touch updates the last-access timestamp.
func (s *Session) Touch() {
	s.LastAccessed = time.Now().UTC()
}
