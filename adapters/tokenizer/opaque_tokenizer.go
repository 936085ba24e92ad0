package tokenizer

import (
	"fmt"

	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/internal/cryptox"
	"github.com/layer-3/campusauth/ports"
)

// OpaqueTokenizer hands out random bearer tokens. Only their fingerprint is
// used as the registry key, so a leaked registry does not leak tokens.
type OpaqueTokenizer struct{}

// NewOpaqueTokenizer creates a new opaque tokenizer
func NewOpaqueTokenizer() ports.Tokenizer {
	return OpaqueTokenizer{}
}

func (OpaqueTokenizer) Issue(session *core.Session) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	session.ID = cryptox.FingerprintToken(token)
	return token, nil
}

func (OpaqueTokenizer) SessionID(token string) (string, error) {
	// base64url of 32 bytes without padding
	if len(token) != 43 {
		return "", core.ErrInvalidSession
	}
	return cryptox.FingerprintToken(token), nil
}
