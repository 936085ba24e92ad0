package ports

import "github.com/layer-3/campusauth/core"

// Tokenizer converts between sessions and bearer tokens
type Tokenizer interface {
	// Issue assigns session.ID and returns the bearer token that resolves to it
	Issue(session *core.Session) (string, error)
	// SessionID resolves a bearer token to its registry key. Malformed or
	// forged tokens yield core.ErrInvalidSession.
	SessionID(token string) (string, error)
}
