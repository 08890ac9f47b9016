package main

import (
	"errors"
	"net/http"
	"strings"
)

// errNoIdentity signals a connection attempt without any user id.
var errNoIdentity = errors.New("no identity supplied")

// websocketAuthenticator extracts the user identity from an upgrade request.
// The default implementation trusts the id the gateway forwards; a real token
// verifier can be wired in its place without touching the handlers.
type websocketAuthenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// forwardedIdentityAuthenticator reads the identity a trusted reverse proxy
// attaches to the request, from the query string or a header.
type forwardedIdentityAuthenticator struct{}

func (forwardedIdentityAuthenticator) Authenticate(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get("X-User-ID"))
	}
	if userID == "" {
		return "", errNoIdentity
	}
	return userID, nil
}
