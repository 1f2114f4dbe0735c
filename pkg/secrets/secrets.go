package secrets

import (
	"crypto/rand"
	"encoding/base64"

	dErrors "ledgerbridge/pkg/domain-errors"
)

// GenerateState creates a cryptographically secure random token.
// Returns a base64-encoded string suitable for OAuth state parameters and
// other unguessable identifiers (256 bits of entropy).
func GenerateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate state token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
