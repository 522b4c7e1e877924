package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenGuard gates the control API behind a shared bearer token. A
// disabled guard admits every request, which is only sane on a unix
// socket or loopback bind.
type TokenGuard struct {
	Enabled bool
	Token   string
}

func (g TokenGuard) Allow(r *http.Request) bool {
	if !g.Enabled {
		return true
	}
	head := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(head, prefix) {
		return false
	}
	candidate := strings.TrimSpace(strings.TrimPrefix(head, prefix))
	if len(candidate) != len(g.Token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.Token)) == 1
}
