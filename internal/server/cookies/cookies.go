// Package cookies writes and clears the credential cookies the browser-facing
// endpoints use. Both cookies are HttpOnly with SameSite=Strict; Secure is on
// everywhere except local development.
package cookies

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"auth-lifecycle/internal/token/service"
)

// Credential cookie names.
const (
	AccessToken  = "access-token"
	RefreshToken = "refresh-token"
)

// Writer writes credential cookies with environment-appropriate flags.
type Writer struct {
	secure bool
}

// NewWriter returns a Writer. secure controls the Secure cookie flag; pass
// false only for local development over plain HTTP.
func NewWriter(secure bool) Writer {
	return Writer{secure: secure}
}

// Set writes both credential cookies, each expiring with its credential.
func (w Writer) Set(c *gin.Context, pair *service.CredentialPair) {
	if pair == nil {
		return
	}
	w.write(c, AccessToken, pair.AccessToken, pair.AccessExpiresAt)
	w.write(c, RefreshToken, pair.RefreshToken, pair.RefreshExpiresAt)
}

// Clear expires both credential cookies immediately.
func (w Writer) Clear(c *gin.Context) {
	w.write(c, AccessToken, "", time.Unix(0, 0))
	w.write(c, RefreshToken, "", time.Unix(0, 0))
}

func (w Writer) write(c *gin.Context, name, value string, expires time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
