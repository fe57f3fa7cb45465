// pkg/platform/lti/helpers.go
package lti

import (
	"encoding/base64"
)

// b64url encodes bytes using base64url without padding.
func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
