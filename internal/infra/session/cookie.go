package session

import (
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// State is what the UI needs to know about the session; identity itself is
// owned by the provider that issued the cookie.
type State string

const (
	StateAbsent  State = "absent"
	StateValid   State = "valid"
	StateExpired State = "expired"
	StateOpaque  State = "opaque" // present but not a JWT; validity unknown until a call
)

// Status describes the session cookie carried by a cookie jar.
type Status struct {
	State     State
	ExpiresAt time.Time
	Subject   string
}

// Inspect reads the named cookie for base from jar and decodes its JWT
// claims without verifying the signature; the server stays the authority,
// this only tells a UI whether a refresh is likely due.
func Inspect(jar http.CookieJar, base *url.URL, cookieName string, now time.Time) Status {
	if jar == nil || base == nil {
		return Status{State: StateAbsent}
	}
	var raw string
	for _, c := range jar.Cookies(base) {
		if c.Name == cookieName {
			raw = c.Value
			break
		}
	}
	if raw == "" {
		return Status{State: StateAbsent}
	}
	return InspectToken(raw, now)
}

// InspectToken classifies a raw token string.
func InspectToken(raw string, now time.Time) Status {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Status{State: StateOpaque}
	}
	st := Status{State: StateValid, Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		st.ExpiresAt = claims.ExpiresAt.Time
		if !now.Before(st.ExpiresAt) {
			st.State = StateExpired
		}
	}
	return st
}

// Seed stores the configured cookies for base in jar. Empty values are skipped.
func Seed(jar http.CookieJar, base *url.URL, cookies map[string]string) {
	if jar == nil || base == nil {
		return
	}
	var out []*http.Cookie
	for name, value := range cookies {
		if name == "" || value == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	if len(out) > 0 {
		jar.SetCookies(base, out)
	}
}
